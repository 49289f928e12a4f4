package coinbase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Tick is one price observation from the ticker channel.
type Tick struct {
	ProductID string
	Price     decimal.Decimal
	Time      time.Time
}

// TickerStream maintains a websocket subscription to the public ticker
// channel, reconnecting and resubscribing on any read failure. Ticks are
// operational telemetry only; order sizing always uses a fresh REST read.
type TickerStream struct {
	url            string
	productIDs     []string
	reconnectDelay time.Duration
	log            *zap.Logger
}

func NewTickerStream(url string, productIDs []string, reconnectDelay time.Duration, log *zap.Logger) *TickerStream {
	if url == "" {
		url = "wss://advanced-trade-ws.coinbase.com"
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &TickerStream{
		url:            url,
		productIDs:     productIDs,
		reconnectDelay: reconnectDelay,
		log:            log,
	}
}

type subscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

type tickerMessage struct {
	Channel string `json:"channel"`
	Events  []struct {
		Type    string `json:"type"`
		Tickers []struct {
			ProductID string `json:"product_id"`
			Price     string `json:"price"`
		} `json:"tickers"`
	} `json:"events"`
}

// Run blocks until ctx is done, delivering ticks to handler. Connection
// failures are retried with a fixed delay.
func (s *TickerStream) Run(ctx context.Context, handler func(Tick)) error {
	for {
		err := s.runOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("ticker stream disconnected", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *TickerStream) runOnce(ctx context.Context, handler func(Tick)) error {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for _, channel := range []string{"ticker", "heartbeats"} {
		sub := subscribeMessage{Type: "subscribe", ProductIDs: s.productIDs, Channel: channel}
		payload, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return err
		}
	}
	s.log.Info("ticker stream connected", zap.Strings("products", s.productIDs))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg tickerMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Channel != "ticker" {
			continue
		}
		now := time.Now()
		for _, event := range msg.Events {
			for _, t := range event.Tickers {
				price := parseDecimal(t.Price)
				if !price.IsPositive() {
					continue
				}
				handler(Tick{ProductID: t.ProductID, Price: price, Time: now})
			}
		}
	}
}
