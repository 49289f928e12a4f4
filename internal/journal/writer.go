// Package journal records every order submission and fill observation in
// Postgres/Timescale for after-the-fact accounting. Writes ride an async
// bounded queue; a full queue drops the record rather than stalling a
// campaign task.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"cb-dca-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type OrderEvent struct {
	Time          time.Time
	ProductID     string
	OrderID       string
	ClientOrderID string
	Side          string
	Kind          string
	LimitPrice    string
	BaseSize      string
	QuoteSize     string
	Accepted      bool
	ErrorCode     string
}

type FillEvent struct {
	Time           time.Time
	CampaignID     string
	OrderID        string
	Status         string
	FilledNotional string
	FilledSize     string
	AvgFillPrice   string
	Remaining      string
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	orders    chan OrderEvent
	fills     chan FillEvent
	started   atomic.Bool
	dropOrder atomic.Uint64
	dropFill  atomic.Uint64
}

// New returns nil (not an error) when journaling is disabled; all Writer
// methods are nil-safe.
func New(cfg config.JournalConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("journal dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		orders: make(chan OrderEvent, queueSize),
		fills:  make(chan FillEvent, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueOrder(event OrderEvent) {
	if w == nil {
		return
	}
	select {
	case w.orders <- event:
	default:
		if w.dropOrder.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal order queue full")
		}
	}
}

func (w *Writer) EnqueueFill(event FillEvent) {
	if w == nil {
		return
	}
	select {
	case w.fills <- event:
	default:
		if w.dropFill.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal fill queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.orders:
			w.writeOrder(ctx, event)
		case event := <-w.fills:
			w.writeFill(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("journal db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		product_id TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		client_order_id TEXT NOT NULL,
		side TEXT NOT NULL,
		kind TEXT NOT NULL,
		limit_price TEXT NOT NULL DEFAULT '',
		base_size TEXT NOT NULL DEFAULT '',
		quote_size TEXT NOT NULL DEFAULT '',
		accepted BOOLEAN NOT NULL,
		error_code TEXT NOT NULL DEFAULT ''
	)`, w.table("order_submissions"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		campaign_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		status TEXT NOT NULL,
		filled_notional TEXT NOT NULL,
		filled_size TEXT NOT NULL,
		avg_fill_price TEXT NOT NULL,
		remaining TEXT NOT NULL
	)`, w.table("fill_observations"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"order_submissions", "fill_observations"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(table))); err != nil && w.log != nil {
			w.log.Warn("hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeOrder(ctx context.Context, event OrderEvent) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, product_id, order_id, client_order_id, side, kind, limit_price, base_size, quote_size, accepted, error_code
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, w.table("order_submissions"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time, event.ProductID, event.OrderID, event.ClientOrderID, event.Side,
		event.Kind, event.LimitPrice, event.BaseSize, event.QuoteSize, event.Accepted, event.ErrorCode,
	); err != nil && w.log != nil {
		w.log.Warn("journal order insert failed", zap.Error(err))
	}
}

func (w *Writer) writeFill(ctx context.Context, event FillEvent) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, campaign_id, order_id, status, filled_notional, filled_size, avg_fill_price, remaining
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("fill_observations"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time, event.CampaignID, event.OrderID, event.Status,
		event.FilledNotional, event.FilledSize, event.AvgFillPrice, event.Remaining,
	); err != nil && w.log != nil {
		w.log.Warn("journal fill insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
