// Package app wires the configured schedule to the execution engine and
// runs the process: venue client, state store, metrics server, fill
// journal, price watch, and alerting.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cb-dca-bot/internal/alerts"
	"cb-dca-bot/internal/config"
	"cb-dca-bot/internal/engine"
	"cb-dca-bot/internal/journal"
	"cb-dca-bot/internal/market"
	"cb-dca-bot/internal/metrics"
	"cb-dca-bot/internal/schedule"
	"cb-dca-bot/internal/state/sqlite"
	"cb-dca-bot/internal/venue"
	"cb-dca-bot/internal/venue/coinbase"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	venue   *coinbase.Client
	engine  *engine.Engine
	metrics *metrics.Metrics
	prom    *metrics.Prometheus
	journal *journal.Writer
	alerts  *alerts.Telegram
	watch   *market.Watch
	sched   *schedule.Scheduler
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(os.Getenv("COINBASE_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("COINBASE_API_SECRET"))
	if apiKey == "" || apiSecret == "" {
		store.Close()
		return nil, errors.New("COINBASE_API_KEY and COINBASE_API_SECRET are required")
	}
	venueClient, err := coinbase.NewClient(cfg.REST.BaseURL, apiKey, apiSecret, cfg.REST.Timeout, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	jw, err := journal.New(cfg.Journal, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		venue:   venueClient,
		metrics: m,
		prom:    prom,
		journal: jw,
		alerts:  alerts.NewTelegram(cfg.Telegram, log),
		watch:   market.NewWatch(m, log),
		sched:   schedule.New(log),
	}
	a.engine = engine.New(venueClient, store, m, jw, log, engineTuning(cfg.Engine))

	for i := range cfg.Schedule {
		job, err := a.buildJob(cfg.Schedule[i])
		if err != nil {
			store.Close()
			return nil, err
		}
		a.sched.Add(job)
	}
	return a, nil
}

func engineTuning(cfg config.EngineConfig) engine.Tuning {
	tuning := engine.DefaultTuning()
	if cfg.TerminalPollInterval > 0 {
		tuning.TerminalPollInterval = cfg.TerminalPollInterval
	}
	if cfg.TerminalWaitCap > 0 {
		tuning.TerminalWaitCap = cfg.TerminalWaitCap
	}
	if cfg.MinFirstRest > 0 {
		tuning.MinFirstRest = cfg.MinFirstRest
	}
	if cfg.MaxIterations > 0 {
		tuning.MaxIterations = cfg.MaxIterations
	}
	return tuning
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.engine.Close()

	// Fail fast on bad credentials before the first scheduled buy, the
	// same check a fresh API key setup needs.
	balances, err := a.venue.ListBalances(ctx)
	if err != nil {
		return errors.New("venue credential check failed: " + err.Error())
	}
	a.logBalances(balances)

	if a.journal != nil {
		a.journal.Start(ctx)
		defer a.journal.Close()
	}
	if a.cfg.Metrics.Enabled {
		a.startMetricsServer(ctx)
	}
	if a.cfg.WS.Enabled {
		go func() {
			stream := coinbase.NewTickerStream(a.cfg.WS.URL, a.productIDs(), a.cfg.WS.ReconnectDelay, a.log)
			if err := a.watch.Run(ctx, stream); err != nil && ctx.Err() == nil {
				a.log.Warn("price watch stopped", zap.Error(err))
			}
		}()
	}

	a.logSchedule()
	a.sched.Start(ctx)
	a.alerts.Notify("dca bot started: %d scheduled task(s)", a.sched.Jobs())

	<-ctx.Done()
	a.log.Info("shutting down, waiting for running campaigns")
	a.sched.Wait()
	return ctx.Err()
}

func (a *App) buildJob(task config.TaskConfig) (schedule.Job, error) {
	intent, err := intentFromTask(task)
	if err != nil {
		return schedule.Job{}, err
	}
	next, err := nextFromTask(task)
	if err != nil {
		return schedule.Job{}, err
	}
	name := task.Frequency + " " + intent.ProductID
	return schedule.Job{
		Name: name,
		Next: next,
		Run: func(ctx context.Context) {
			a.runTask(ctx, intent)
		},
	}, nil
}

func (a *App) runTask(ctx context.Context, intent engine.OrderIntent) {
	a.log.Info("scheduled purchase firing",
		zap.String("product", intent.ProductID),
		zap.String("quote_amount", intent.QuoteAmount.String()),
		zap.String("kind", string(intent.Kind)),
	)
	result := a.engine.CreateOrder(ctx, intent)
	if !result.Success {
		a.log.Error("scheduled purchase failed",
			zap.String("product", intent.ProductID),
			zap.String("error", result.Err),
		)
		a.alerts.Notify("order failed for %s: %s", intent.ProductID, result.Err)
		return
	}
	a.alerts.Notify("order placed: %s %s for %s", intent.ProductID, intent.Kind, intent.QuoteAmount.String())
}

// intentFromTask converts one configured task into an order intent. The
// configured limit_price_pct is in percent; the engine wants a fraction.
func intentFromTask(task config.TaskConfig) (engine.OrderIntent, error) {
	amount, err := decimal.NewFromString(task.QuoteAmount)
	if err != nil {
		return engine.OrderIntent{}, err
	}
	intent := engine.OrderIntent{
		ProductID:       task.ProductID(),
		QuoteAmount:     amount,
		Kind:            engine.OrderKind(task.OrderType),
		ClientOrderID:   task.ClientOrderID,
		PostOnly:        task.PostOnly,
		Budget:          task.Timeout,
		RepriceInterval: task.RepriceInterval,
		DisableFallback: task.DisableFallback,
	}
	if task.LimitPricePct != "" {
		pct, err := decimal.NewFromString(task.LimitPricePct)
		if err != nil {
			return engine.OrderIntent{}, err
		}
		intent.LimitPricePct = pct.Div(decimal.NewFromInt(100))
	}
	if task.LimitPrice != "" {
		price, err := decimal.NewFromString(task.LimitPrice)
		if err != nil {
			return engine.OrderIntent{}, err
		}
		intent.LimitPrice = price
	}
	return intent, nil
}

func nextFromTask(task config.TaskConfig) (schedule.NextFunc, error) {
	switch task.Frequency {
	case "seconds":
		return schedule.Every(time.Duration(task.Seconds) * time.Second), nil
	case "hourly":
		return schedule.Every(time.Hour), nil
	case "daily", "weekly", "monthly", "once":
		hour, minute, err := schedule.ParseTimeOfDay(task.Time)
		if err != nil {
			return nil, err
		}
		switch task.Frequency {
		case "daily":
			return schedule.DailyAt(hour, minute), nil
		case "weekly":
			day, ok := config.ParseWeekday(task.DayOfWeek)
			if !ok {
				return nil, errors.New("day_of_week " + task.DayOfWeek + " is not a weekday name")
			}
			return schedule.WeeklyAt(day, hour, minute), nil
		case "monthly":
			return schedule.MonthlyAt(task.DayOfMonth, hour, minute), nil
		default:
			return schedule.OnceAt(hour, minute), nil
		}
	}
	return nil, errors.New("unknown frequency " + task.Frequency)
}

func (a *App) productIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, task := range a.cfg.Schedule {
		id := task.ProductID()
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *App) logBalances(balances []venue.Balance) {
	for _, b := range balances {
		if b.Available.IsZero() {
			continue
		}
		a.log.Info("account balance",
			zap.String("currency", b.Currency),
			zap.String("available", b.Available.String()),
		)
	}
}

func (a *App) logSchedule() {
	for _, task := range a.cfg.Schedule {
		a.log.Info("schedule configured",
			zap.String("pair", task.ProductID()),
			zap.String("frequency", task.Frequency),
			zap.String("quote_amount", task.QuoteAmount),
			zap.String("order_type", task.OrderType),
			zap.String("time", task.Time),
		)
	}
}

func (a *App) startMetricsServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux}
	go func() {
		a.log.Info("metrics server listening",
			zap.String("address", a.cfg.Metrics.Address),
			zap.String("path", a.cfg.Metrics.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
