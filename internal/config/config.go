package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	REST     RESTConfig     `yaml:"rest"`
	WS       WSConfig       `yaml:"ws"`
	State    StateConfig    `yaml:"state"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Journal  JournalConfig  `yaml:"journal"`
	Telegram TelegramConfig `yaml:"telegram"`
	Engine   EngineConfig   `yaml:"engine"`
	Schedule []TaskConfig   `yaml:"schedule"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DSN       string `yaml:"dsn"`
	Schema    string `yaml:"schema"`
	QueueSize int    `yaml:"queue_size"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

// EngineConfig overrides the engine's wait windows and safety caps.
// Zero values keep the engine defaults.
type EngineConfig struct {
	TerminalPollInterval time.Duration `yaml:"terminal_poll_interval"`
	TerminalWaitCap      time.Duration `yaml:"terminal_wait_cap"`
	MinFirstRest         time.Duration `yaml:"min_first_rest"`
	MaxIterations        int           `yaml:"max_iterations"`
}

// TaskConfig is one scheduled purchase. Pair accepts "BTC/USDC" or the
// venue's "BTC-USDC" form. LimitPricePct is in percent: 0.01 means the
// limit rests 0.01% below market.
type TaskConfig struct {
	Pair            string        `yaml:"pair"`
	QuoteAmount     string        `yaml:"quote_amount"`
	OrderType       string        `yaml:"order_type"`
	Frequency       string        `yaml:"frequency"`
	Seconds         int           `yaml:"seconds"`
	Time            string        `yaml:"time"`
	DayOfWeek       string        `yaml:"day_of_week"`
	DayOfMonth      int           `yaml:"day_of_month"`
	LimitPricePct   string        `yaml:"limit_price_pct"`
	LimitPrice      string        `yaml:"limit_price"`
	PostOnly        bool          `yaml:"post_only"`
	Timeout         time.Duration `yaml:"timeout"`
	RepriceInterval time.Duration `yaml:"reprice_interval"`
	DisableFallback bool          `yaml:"disable_fallback"`
	ClientOrderID   string        `yaml:"client_order_id"`
}

// ProductID normalizes the configured pair to the venue's product id.
func (t TaskConfig) ProductID() string {
	return strings.ReplaceAll(strings.TrimSpace(t.Pair), "/", "-")
}

var validFrequencies = map[string]bool{
	"seconds": true,
	"hourly":  true,
	"daily":   true,
	"weekly":  true,
	"monthly": true,
	"once":    true,
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.coinbase.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://advanced-trade-ws.coinbase.com"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/cb-dca-bot.db"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Journal.Schema == "" {
		cfg.Journal.Schema = "public"
	}
	for i := range cfg.Schedule {
		task := &cfg.Schedule[i]
		if task.OrderType == "" {
			task.OrderType = "limit"
		}
		if task.LimitPricePct == "" && task.LimitPrice == "" {
			// Rest a tenth of a percent under market by default.
			task.LimitPricePct = "0.1"
		}
		if task.Timeout == 0 {
			task.Timeout = 24 * time.Hour
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("DCA_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("DCA_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := strings.TrimSpace(os.Getenv("DCA_JOURNAL_DSN")); dsn != "" {
		cfg.Journal.DSN = dsn
	}
}

func validate(cfg *Config) error {
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.DSN) == "" {
		return errors.New("journal.dsn is required when journal is enabled")
	}
	if len(cfg.Schedule) == 0 {
		return errors.New("at least one schedule task is required")
	}
	for i := range cfg.Schedule {
		if err := validateTask(&cfg.Schedule[i]); err != nil {
			return fmt.Errorf("schedule[%d]: %w", i, err)
		}
	}
	return nil
}

func validateTask(task *TaskConfig) error {
	if task.ProductID() == "" {
		return errors.New("pair is required")
	}
	amount, err := decimal.NewFromString(task.QuoteAmount)
	if err != nil {
		return fmt.Errorf("quote_amount %q is not a decimal: %w", task.QuoteAmount, err)
	}
	if !amount.IsPositive() {
		return errors.New("quote_amount must be > 0")
	}
	switch task.OrderType {
	case "limit", "market":
	default:
		return fmt.Errorf("order_type %q must be limit or market", task.OrderType)
	}
	if task.LimitPricePct != "" {
		pct, err := decimal.NewFromString(task.LimitPricePct)
		if err != nil {
			return fmt.Errorf("limit_price_pct %q is not a decimal: %w", task.LimitPricePct, err)
		}
		if pct.IsNegative() || pct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return errors.New("limit_price_pct must be in [0, 100)")
		}
	}
	if task.LimitPrice != "" {
		price, err := decimal.NewFromString(task.LimitPrice)
		if err != nil {
			return fmt.Errorf("limit_price %q is not a decimal: %w", task.LimitPrice, err)
		}
		if !price.IsPositive() {
			return errors.New("limit_price must be > 0")
		}
	}
	if task.Timeout < 0 || task.RepriceInterval < 0 {
		return errors.New("timeout and reprice_interval must be >= 0")
	}
	if !validFrequencies[task.Frequency] {
		return fmt.Errorf("frequency %q is not one of seconds, hourly, daily, weekly, monthly, once", task.Frequency)
	}
	switch task.Frequency {
	case "seconds":
		if task.Seconds <= 0 {
			return errors.New("seconds must be > 0 for the seconds frequency")
		}
	case "daily", "once":
		if err := validateClock(task.Time); err != nil {
			return err
		}
	case "weekly":
		if err := validateClock(task.Time); err != nil {
			return err
		}
		if _, ok := ParseWeekday(task.DayOfWeek); !ok {
			return fmt.Errorf("day_of_week %q is not a weekday name", task.DayOfWeek)
		}
	case "monthly":
		if err := validateClock(task.Time); err != nil {
			return err
		}
		if task.DayOfMonth < 1 || task.DayOfMonth > 31 {
			return errors.New("day_of_month must be in [1, 31]")
		}
	}
	return nil
}

func validateClock(value string) error {
	if _, err := time.Parse("15:04", value); err != nil {
		return fmt.Errorf("time %q must be HH:MM: %w", value, err)
	}
	return nil
}

// ParseWeekday maps a weekday name (any case) to time.Weekday.
func ParseWeekday(name string) (time.Weekday, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sunday":
		return time.Sunday, true
	case "monday":
		return time.Monday, true
	case "tuesday":
		return time.Tuesday, true
	case "wednesday":
		return time.Wednesday, true
	case "thursday":
		return time.Thursday, true
	case "friday":
		return time.Friday, true
	case "saturday":
		return time.Saturday, true
	}
	return time.Sunday, false
}
