// Package coinbase implements the venue interface against the Coinbase
// Advanced Trade REST API, normalizing its wire shapes into the canonical
// venue types.
package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cb-dca-bot/internal/venue"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const apiPrefix = "/api/v3/brokerage"

type Client struct {
	baseURL string
	http    *http.Client
	signer  *signer
	log     *zap.Logger
	now     func() time.Time
}

func NewClient(baseURL, apiKey, apiSecret string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	s, err := newSigner(apiKey, apiSecret)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = "https://api.coinbase.com"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		signer: s,
		log:    log,
		now:    time.Now,
	}, nil
}

var _ venue.Venue = (*Client)(nil)

func (c *Client) GetProduct(ctx context.Context, productID string) (venue.ProductInfo, error) {
	var resp productResponse
	if err := c.get(ctx, apiPrefix+"/products/"+url.PathEscape(productID), nil, &resp); err != nil {
		return venue.ProductInfo{}, err
	}
	info := venue.ProductInfo{
		ProductID:      resp.ProductID,
		Price:          parseDecimal(resp.Price),
		PriceIncrement: parseDecimal(resp.QuoteIncrement),
		BaseIncrement:  parseDecimal(resp.BaseIncrement),
		QuoteIncrement: parseDecimal(resp.QuoteIncrement),
		QuoteMinSize:   parseDecimal(resp.QuoteMinSize),
		BaseMinSize:    parseDecimal(resp.BaseMinSize),
	}
	if info.ProductID == "" {
		info.ProductID = productID
	}
	if !info.Price.IsPositive() {
		return venue.ProductInfo{}, fmt.Errorf("product %s: no price in response", productID)
	}
	return info, nil
}

func (c *Client) SubmitLimitOrder(ctx context.Context, req venue.LimitOrderRequest) (venue.SubmitResult, error) {
	cfg := orderConfiguration{}
	if req.EndTime.IsZero() {
		cfg.LimitGTC = &limitGTC{
			BaseSize:   req.BaseSize.String(),
			LimitPrice: req.LimitPrice.String(),
			PostOnly:   req.PostOnly,
		}
	} else {
		cfg.LimitGTD = &limitGTD{
			BaseSize:   req.BaseSize.String(),
			LimitPrice: req.LimitPrice.String(),
			EndTime:    req.EndTime.UTC().Format(time.RFC3339),
			PostOnly:   req.PostOnly,
		}
	}
	return c.createOrder(ctx, createOrderRequest{
		ClientOrderID:      req.ClientOrderID,
		ProductID:          req.ProductID,
		Side:               string(req.Side),
		OrderConfiguration: cfg,
	})
}

func (c *Client) SubmitMarketOrder(ctx context.Context, req venue.MarketOrderRequest) (venue.SubmitResult, error) {
	return c.createOrder(ctx, createOrderRequest{
		ClientOrderID: req.ClientOrderID,
		ProductID:     req.ProductID,
		Side:          string(req.Side),
		OrderConfiguration: orderConfiguration{
			MarketIOC: &marketIOC{QuoteSize: req.QuoteSize.String()},
		},
	})
}

func (c *Client) createOrder(ctx context.Context, req createOrderRequest) (venue.SubmitResult, error) {
	var resp createOrderResponse
	if err := c.post(ctx, apiPrefix+"/orders", req, &resp); err != nil {
		return venue.SubmitResult{}, err
	}
	if resp.Success {
		return venue.SubmitResult{
			Success:       true,
			OrderID:       resp.SuccessResponse.OrderID,
			ClientOrderID: resp.SuccessResponse.ClientOrderID,
		}, nil
	}
	code, message := classifyOrderError(resp)
	return venue.SubmitResult{
		Success:       false,
		ClientOrderID: req.ClientOrderID,
		ErrorCode:     code,
		ErrorMessage:  message,
	}, nil
}

// classifyOrderError maps the venue's free-form rejection fields onto the
// canonical error codes the engine branches on.
func classifyOrderError(resp createOrderResponse) (venue.ErrorCode, string) {
	er := resp.ErrorResponse
	joined := strings.ToUpper(strings.Join([]string{er.Error, er.Message, er.ErrorDetails, er.PreviewFailureReason}, " "))
	code := venue.CodeUnknown
	switch {
	case strings.Contains(joined, "POST_ONLY") || strings.Contains(joined, "POST ONLY"):
		code = venue.CodePostOnlyWouldCross
	case strings.Contains(joined, "INSUFFICIENT_FUND") || strings.Contains(joined, "INSUFFICIENT FUND"):
		code = venue.CodeInsufficientFunds
	}
	message := er.Message
	if message == "" {
		message = er.Error
	}
	if message == "" {
		message = er.PreviewFailureReason
	}
	if message == "" {
		message = "order rejected"
	}
	return code, message
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	var resp batchCancelResponse
	if err := c.post(ctx, apiPrefix+"/orders/batch_cancel", batchCancelRequest{OrderIDs: []string{orderID}}, &resp); err != nil {
		return err
	}
	for _, r := range resp.Results {
		if r.OrderID == orderID || len(resp.Results) == 1 {
			if r.Success {
				return nil
			}
			return fmt.Errorf("cancel %s rejected: %s", orderID, r.FailureReason)
		}
	}
	return fmt.Errorf("cancel %s: no result in response", orderID)
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (venue.OrderState, error) {
	var resp getOrderResponse
	if err := c.get(ctx, apiPrefix+"/orders/historical/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return venue.OrderState{}, err
	}
	o := resp.Order
	state := venue.OrderState{
		OrderID:        o.OrderID,
		Status:         mapStatus(o.Status),
		FilledNotional: parseDecimal(o.FilledValue),
		FilledSize:     parseDecimal(o.FilledSize),
		AvgFillPrice:   parseDecimal(o.AverageFilledPrice),
	}
	if state.OrderID == "" {
		state.OrderID = orderID
	}
	return state, nil
}

func mapStatus(s string) venue.Status {
	switch strings.ToUpper(s) {
	case "PENDING":
		return venue.StatusPending
	case "OPEN":
		return venue.StatusOpen
	case "QUEUED", "CANCEL_QUEUED":
		return venue.StatusQueued
	case "FILLED":
		return venue.StatusFilled
	case "CANCELLED":
		return venue.StatusCancelled
	case "EXPIRED":
		return venue.StatusExpired
	case "FAILED":
		return venue.StatusFailed
	case "REJECTED":
		return venue.StatusRejected
	}
	return venue.StatusUnknown
}

func (c *Client) ListBalances(ctx context.Context) ([]venue.Balance, error) {
	var balances []venue.Balance
	cursor := ""
	for {
		query := url.Values{"limit": {"250"}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var resp accountsResponse
		if err := c.get(ctx, apiPrefix+"/accounts", query, &resp); err != nil {
			return nil, err
		}
		for _, acct := range resp.Accounts {
			balances = append(balances, venue.Balance{
				Currency:  acct.Currency,
				Available: parseDecimal(acct.AvailableBalance.Value),
			})
		}
		if !resp.HasNext || resp.Cursor == "" {
			return balances, nil
		}
		cursor = resp.Cursor
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, full, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("CB-ACCESS-KEY", c.signer.key)
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("CB-ACCESS-SIGN", c.signer.sign(timestamp, method, path, string(payload)))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
