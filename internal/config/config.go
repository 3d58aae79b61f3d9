// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amirphl/grid-trader/internal/market"
	"github.com/amirphl/grid-trader/internal/strategy"
)

/*
YAML config example:

mode: "live"
log:
  level: "info"
  file: "logs/trader.log"
wallex_api_key: "..."
db_conn_str: "postgres://..."
db_max_open: 10
db_max_idle: 5
telegram_token: "..."
telegram_chat_id: "..."
queue_size: 1024
workers: 2
bots:
  - name: "btc-grid"
    pair: "BTC_USDT"
    type: "grid"
    settings:
      lower_price: "40000"
      upper_price: "60000"
      order_distance: "500"
      max_orders: 20
      direction: "BOTH"
      price_scale: 2
      amount_scale: 6
      sizing: { order_size: "0.001" }
  - name: "eth-trend"
    pair: "ETH_USDT"
    type: "trend"
    settings:
      trigger_distance: "30"
      min_tp_distance: "10"
      max_tp_distance: "60"
      counter_distance: "15"
      ...
backtest:
  from: "2024-01-01"
  to: "2024-06-01"
  timeframe: "1m"
  fee_percent: "0.1"
  initial_base: "1"
  initial_quote: "50000"
  fail_if_kline_gaps: true
*/

// UnknownStrategyTypeError is returned when a bot block names a strategy
// type this build does not implement. Configuration mistakes fail the whole
// load; a bot is never silently skipped.
type UnknownStrategyTypeError struct {
	Type string
}

func (e *UnknownStrategyTypeError) Error() string {
	return fmt.Sprintf("unknown strategy type %q (want grid or trend)", e.Type)
}

type LogConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// BotConfig is one bot block: a pair plus a strategy settings union
// discriminated by Type.
type BotConfig struct {
	Name string `yaml:"name"`
	Pair string `yaml:"pair"`
	Type string `yaml:"type"`

	// Exactly one of these is populated, selected by Type.
	Grid  *strategy.GridSettings  `yaml:"-"`
	Trend *strategy.TrendSettings `yaml:"-"`
}

// UnmarshalYAML decodes the settings block into the concrete type named by
// the "type" field.
func (b *BotConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name     string    `yaml:"name"`
		Pair     string    `yaml:"pair"`
		Type     string    `yaml:"type"`
		Settings yaml.Node `yaml:"settings"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	b.Name = raw.Name
	b.Pair = raw.Pair
	b.Type = raw.Type

	pair, err := market.ParsePair(raw.Pair)
	if err != nil {
		return fmt.Errorf("bot %q: %w", raw.Name, err)
	}

	switch raw.Type {
	case "grid":
		var s strategy.GridSettings
		if err := raw.Settings.Decode(&s); err != nil {
			return fmt.Errorf("bot %q: decoding grid settings: %w", raw.Name, err)
		}
		s.Pair = pair
		b.Grid = &s
	case "trend":
		var s strategy.TrendSettings
		if err := raw.Settings.Decode(&s); err != nil {
			return fmt.Errorf("bot %q: decoding trend settings: %w", raw.Name, err)
		}
		s.Pair = pair
		b.Trend = &s
	default:
		return &UnknownStrategyTypeError{Type: raw.Type}
	}
	return nil
}

func (b *BotConfig) Validate() error {
	if b.Name == "" {
		return errors.New("bot name is required")
	}
	switch {
	case b.Grid != nil:
		return b.Grid.Validate()
	case b.Trend != nil:
		return b.Trend.Validate()
	default:
		return &UnknownStrategyTypeError{Type: b.Type}
	}
}

type BacktestConfig struct {
	From            string `yaml:"from"` // YYYY-MM-DD
	To              string `yaml:"to"`
	Timeframe       string `yaml:"timeframe"`
	FeePercent      string `yaml:"fee_percent"`
	InitialBase     string `yaml:"initial_base"`
	InitialQuote    string `yaml:"initial_quote"`
	FailIfKlineGaps bool   `yaml:"fail_if_kline_gaps"`
}

func (b BacktestConfig) FromTime() (time.Time, error) {
	return time.Parse("2006-01-02", b.From)
}

func (b BacktestConfig) ToTime() (time.Time, error) {
	return time.Parse("2006-01-02", b.To)
}

type Config struct {
	Mode           string         `yaml:"mode"` // live or backtest
	Log            LogConfig      `yaml:"log"`
	WallexAPIKey   string         `yaml:"wallex_api_key"`
	DBConnStr      string         `yaml:"db_conn_str"`
	DBMaxOpen      int            `yaml:"db_max_open"`
	DBMaxIdle      int            `yaml:"db_max_idle"`
	TelegramToken  string         `yaml:"telegram_token"`
	TelegramChatID string         `yaml:"telegram_chat_id"`
	QueueSize      int            `yaml:"queue_size"`
	Workers        int            `yaml:"workers"`
	Bots           []BotConfig    `yaml:"bots"`
	Backtest       BacktestConfig `yaml:"backtest"`
}

func (c *Config) Validate() error {
	if c.Mode != "live" && c.Mode != "backtest" {
		return fmt.Errorf("invalid mode %q (want live or backtest)", c.Mode)
	}
	if len(c.Bots) == 0 {
		return errors.New("at least one bot is required")
	}
	for i := range c.Bots {
		if err := c.Bots[i].Validate(); err != nil {
			return fmt.Errorf("bot %d: %w", i, err)
		}
	}
	if c.Mode == "backtest" {
		if _, err := c.Backtest.FromTime(); err != nil {
			return fmt.Errorf("backtest from: %w", err)
		}
		if _, err := c.Backtest.ToTime(); err != nil {
			return fmt.Errorf("backtest to: %w", err)
		}
	}
	return nil
}

// Parse decodes a YAML document, applies environment variable fallbacks for
// secrets and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		Mode:      "live",
		DBMaxOpen: 10,
		DBMaxIdle: 5,
		Log:       LogConfig{Level: "info", Console: true},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.WallexAPIKey == "" {
		cfg.WallexAPIKey = os.Getenv("WALLEX_API_KEY")
	}
	if cfg.DBConnStr == "" {
		cfg.DBConnStr = os.Getenv("DB_CONN_STR")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the config file named by -config, with -mode overriding the
// file's mode.
func Load() (*Config, error) {
	configFile := flag.String("config", "config.yaml", "Path to YAML config file")
	mode := flag.String("mode", "", "Override mode: live or backtest")
	flag.Parse()

	data, err := os.ReadFile(*configFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if *mode != "" {
		cfg.Mode = *mode
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
