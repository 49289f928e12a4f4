// Command buy places a single purchase outside the schedule, with the
// same campaign flow the bot runs: maker-priced limit, repricing, and
// market fallback.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cb-dca-bot/internal/config"
	"cb-dca-bot/internal/engine"
	"cb-dca-bot/internal/logging"
	"cb-dca-bot/internal/venue/coinbase"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	pair := flag.String("pair", "BTC-USDC", "product to buy, BTC/USDC or BTC-USDC form")
	amount := flag.String("amount", "", "quote currency amount to spend")
	orderType := flag.String("type", "limit", "order type: limit or market")
	pct := flag.String("pct", "0.1", "limit discount under market, in percent")
	price := flag.String("price", "", "absolute limit price, overrides -pct")
	postOnly := flag.Bool("post-only", true, "submit the limit order post-only")
	timeout := flag.Duration("timeout", time.Hour, "campaign budget before the market fallback")
	reprice := flag.Duration("reprice", 5*time.Minute, "reprice interval, 0 disables repricing")
	noFallback := flag.Bool("no-fallback", false, "leave the unfilled remainder unplaced at budget expiry")
	baseURL := flag.String("base-url", "", "REST base url override")
	dryRun := flag.Bool("dry-run", false, "print the derived intent and exit")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}
	if *amount == "" {
		fatal(fmt.Errorf("-amount is required"))
	}
	quote, err := decimal.NewFromString(*amount)
	if err != nil {
		fatal(fmt.Errorf("-amount %q is not a decimal: %w", *amount, err))
	}
	pctFraction := decimal.Zero
	if *pct != "" {
		p, err := decimal.NewFromString(*pct)
		if err != nil {
			fatal(fmt.Errorf("-pct %q is not a decimal: %w", *pct, err))
		}
		pctFraction = p.Div(decimal.NewFromInt(100))
	}
	limitPrice := decimal.Zero
	if *price != "" {
		limitPrice, err = decimal.NewFromString(*price)
		if err != nil {
			fatal(fmt.Errorf("-price %q is not a decimal: %w", *price, err))
		}
	}

	intent := engine.OrderIntent{
		ProductID:       strings.ReplaceAll(*pair, "/", "-"),
		QuoteAmount:     quote,
		Kind:            engine.OrderKind(*orderType),
		LimitPricePct:   pctFraction,
		LimitPrice:      limitPrice,
		PostOnly:        *postOnly,
		Budget:          *timeout,
		RepriceInterval: *reprice,
		DisableFallback: *noFallback,
	}
	if *dryRun {
		fmt.Printf("would buy %s of %s as %s (pct=%s price=%s post_only=%v timeout=%s reprice=%s fallback=%v)\n",
			intent.QuoteAmount, intent.ProductID, intent.Kind,
			intent.LimitPricePct, intent.LimitPrice, intent.PostOnly,
			intent.Budget, intent.RepriceInterval, !intent.DisableFallback)
		return
	}

	log := logging.New(config.LoggingConfig{Level: "info"})
	client, err := coinbase.NewClient(*baseURL, os.Getenv("COINBASE_API_KEY"), os.Getenv("COINBASE_API_SECRET"), 10*time.Second, log)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(client, nil, nil, nil, log, engine.DefaultTuning())
	defer eng.Close()

	result := eng.CreateOrder(ctx, intent)
	if !result.Success {
		fatal(fmt.Errorf("order failed: %s", result.Err))
	}
	log.Info("order placed",
		zap.String("order_id", result.OrderID),
		zap.String("client_order_id", result.ClientOrderID),
	)

	// Stay alive until the campaign settles so repricing and the fallback
	// can run.
	for len(eng.ActiveCampaigns()) > 0 {
		select {
		case <-ctx.Done():
			log.Warn("interrupted, campaign left to venue-side expiry")
			return
		case <-time.After(time.Second):
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
