package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Alpaca struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

type PaperPosition struct {
	Symbol      string  `yaml:"symbol"`
	Quantity    int64   `yaml:"quantity"`
	AverageCost float64 `yaml:"average_cost"`
	Dividends   float64 `yaml:"dividends"`
	BasePrice   float64 `yaml:"base_price"`
}

type Paper struct {
	Enabled   bool            `yaml:"enabled"`
	Positions []PaperPosition `yaml:"positions"`
}

type Brokers struct {
	Alpaca Alpaca `yaml:"alpaca"`
	Paper  Paper  `yaml:"paper"`
}

type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type Journal struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type Report struct {
	// Six-field cron spec (robfig, with seconds). Empty disables the daily report.
	DailyCron string `yaml:"daily_cron"`
}

type Root struct {
	Watchlist            []string `yaml:"watchlist"`
	OptionsWatchlist     []string `yaml:"options_watchlist"`
	MaxDrawdownPct       float64  `yaml:"max_drawdown_pct"`
	WashSaleDays         int      `yaml:"wash_sale_days"`
	CycleIntervalSeconds int      `yaml:"cycle_interval_seconds"`
	StateFile            string   `yaml:"state_file"`
	Debug                bool     `yaml:"debug"`
	Brokers              Brokers  `yaml:"brokers"`
	Telegram             Telegram `yaml:"telegram"`
	Journal              Journal  `yaml:"journal"`
	Report               Report   `yaml:"report"`
}

// LoadDotenv loads .env.<ENVIRONMENT> when present, falling back to .env.
// Missing files are fine; real deployments set the environment directly.
func LoadDotenv() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env != "" {
		if err := godotenv.Load(".env." + env); err == nil {
			return
		}
	}
	_ = godotenv.Load()
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error: the whole surface
// can be driven from the environment.
func Load(path string) (*Root, error) {
	cfg := &Root{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("WATCHLIST"); v != "" {
		cfg.Watchlist = splitList(v)
	}
	if v := os.Getenv("OPTIONS_WATCHLIST"); v != "" {
		cfg.OptionsWatchlist = splitList(v)
	}
	if v := os.Getenv("MAX_DRAWDOWN_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MaxDrawdownPct = f
		}
	}
	if v := os.Getenv("WASH_SALE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WashSaleDays = n
		}
	}
	if v := os.Getenv("CYCLE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CycleIntervalSeconds = n
		}
	}
	if v := os.Getenv("STATE_FILE"); v != "" {
		cfg.StateFile = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Journal.SQLitePath = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("ALPACA_ENABLED"); v != "" {
		cfg.Brokers.Alpaca.Enabled = v == "true"
	}
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Brokers.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Brokers.Alpaca.APISecret = v
	}
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Brokers.Alpaca.BaseURL = v
	}
	if v := os.Getenv("PAPER_ENABLED"); v != "" {
		cfg.Brokers.Paper.Enabled = v == "true"
	}

	// Defaults
	if len(cfg.Watchlist) == 0 {
		cfg.Watchlist = []string{"SPY", "QQQ", "TSLA", "NVDA"}
	}
	if len(cfg.OptionsWatchlist) == 0 {
		cfg.OptionsWatchlist = []string{"SPY", "QQQ"}
	}
	if cfg.MaxDrawdownPct == 0 {
		cfg.MaxDrawdownPct = 0.10
	}
	if cfg.WashSaleDays == 0 {
		cfg.WashSaleDays = 31
	}
	if cfg.CycleIntervalSeconds == 0 {
		cfg.CycleIntervalSeconds = 900
	}
	if cfg.StateFile == "" {
		cfg.StateFile = "data/bot_state.json"
	}

	normalize(cfg.Watchlist)
	normalize(cfg.OptionsWatchlist)

	return cfg, nil
}

// Validate checks hard requirements. Soft concerns (a wash-sale window under
// the 30-day regulatory minimum) are the caller's to warn about; see
// ShortCooldown.
func (c *Root) Validate() error {
	if len(c.Watchlist) == 0 {
		return fmt.Errorf("watchlist must not be empty")
	}
	if c.MaxDrawdownPct <= 0 || c.MaxDrawdownPct > 1 {
		return fmt.Errorf("max_drawdown_pct must be in (0, 1], got %v", c.MaxDrawdownPct)
	}
	if c.WashSaleDays < 1 {
		return fmt.Errorf("wash_sale_days must be at least 1, got %d", c.WashSaleDays)
	}
	if c.CycleIntervalSeconds < 1 {
		return fmt.Errorf("cycle_interval_seconds must be at least 1, got %d", c.CycleIntervalSeconds)
	}
	if c.StateFile == "" {
		return fmt.Errorf("state_file is required")
	}
	return nil
}

// ShortCooldown reports whether the configured wash-sale window is below the
// 30-day regulatory minimum.
func (c *Root) ShortCooldown() bool {
	return c.WashSaleDays < 30
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalize(tickers []string) {
	for i, t := range tickers {
		tickers[i] = strings.ToUpper(strings.TrimSpace(t))
	}
}
