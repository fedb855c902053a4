package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeDryRun = "dry_run"
	ModePaper  = "paper"
)

// Config represents the complete trader configuration
type Config struct {
	Mode      string          `json:"mode" yaml:"mode"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Risk      RiskConfig      `json:"risk" yaml:"risk"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// LedgerConfig selects where the portfolio document lives
type LedgerConfig struct {
	Backend        string  `json:"backend" yaml:"backend"` // "file" or "sqlite"
	Path           string  `json:"path,omitempty" yaml:"path,omitempty"`
	InitialBalance float64 `json:"initial_balance" yaml:"initial_balance"`
	MaxAttempts    int     `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	IOTimeout      string  `json:"io_timeout,omitempty" yaml:"io_timeout,omitempty"` // e.g. "5s"
}

// ParseIOTimeout converts the io_timeout string to time.Duration
func (l LedgerConfig) ParseIOTimeout() (time.Duration, error) {
	if l.IOTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(l.IOTimeout)
}

// ExecutionConfig contains fill simulation parameters
type ExecutionConfig struct {
	CommissionBps   float64 `json:"commission_bps" yaml:"commission_bps"`
	SlippageBps     float64 `json:"slippage_bps" yaml:"slippage_bps"`
	MinFill         float64 `json:"min_fill" yaml:"min_fill"`
	MaxFill         float64 `json:"max_fill" yaml:"max_fill"`
	ReleaseUnfilled bool    `json:"release_unfilled" yaml:"release_unfilled"`
	Seed            uint64  `json:"seed,omitempty" yaml:"seed,omitempty"` // 0 picks a random seed
	WalkWidth       float64 `json:"walk_width,omitempty" yaml:"walk_width,omitempty"`
}

// RiskConfig contains sizing and exit thresholds
type RiskConfig struct {
	MaxPositionSize  float64 `json:"max_position_size" yaml:"max_position_size"`
	RiskPerTrade     float64 `json:"risk_per_trade" yaml:"risk_per_trade"`
	TakeProfit       float64 `json:"take_profit" yaml:"take_profit"`
	StopLoss         float64 `json:"stop_loss" yaml:"stop_loss"`
	MaxDailyTrades   int     `json:"max_daily_trades" yaml:"max_daily_trades"`
	MaxDailyLoss     float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxOpenPositions int     `json:"max_open_positions,omitempty" yaml:"max_open_positions,omitempty"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv", "sqlite", "jsonl" or "none"
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// LoadFromFile loads configuration from a file (YAML or JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeDryRun && c.Mode != ModePaper {
		return fmt.Errorf("mode must be '%s' or '%s'", ModeDryRun, ModePaper)
	}

	if c.Ledger.Backend != "file" && c.Ledger.Backend != "sqlite" {
		return fmt.Errorf("ledger.backend must be 'file' or 'sqlite'")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if c.Ledger.InitialBalance < 0 {
		return fmt.Errorf("ledger.initial_balance must not be negative")
	}
	if _, err := c.Ledger.ParseIOTimeout(); err != nil {
		return fmt.Errorf("ledger.io_timeout: %w", err)
	}

	e := c.Execution
	if e.CommissionBps < 0 || e.SlippageBps < 0 {
		return fmt.Errorf("execution commission_bps and slippage_bps must not be negative")
	}
	if e.MinFill <= 0 || e.MinFill > 1 || e.MaxFill < e.MinFill || e.MaxFill > 1 {
		return fmt.Errorf("execution fill range must satisfy 0 < min_fill <= max_fill <= 1")
	}

	r := c.Risk
	if r.MaxPositionSize <= 0 || r.MaxPositionSize > 1 {
		return fmt.Errorf("risk.max_position_size must be between 0 and 1")
	}
	if r.RiskPerTrade < 0 || r.RiskPerTrade > 1 {
		return fmt.Errorf("risk.risk_per_trade must be between 0 and 1")
	}
	if r.TakeProfit < 0 || r.StopLoss < 0 {
		return fmt.Errorf("risk take_profit and stop_loss must not be negative")
	}
	if r.MaxDailyTrades < 0 || r.MaxOpenPositions < 0 {
		return fmt.Errorf("risk trade limits must not be negative")
	}
	if r.MaxDailyLoss < 0 || r.MaxDailyLoss > 1 {
		return fmt.Errorf("risk.max_daily_loss must be between 0 and 1")
	}

	switch c.Journal.Type {
	case "none", "":
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal trades_file and equity_file required for CSV type")
		}
	case "jsonl":
		if c.Journal.TradesFile == "" {
			return fmt.Errorf("journal trades_file required for JSONL type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite', 'jsonl' or 'none'")
	}
	return nil
}

// Default returns a dry-run configuration with sensible defaults
func Default() *Config {
	return &Config{
		Mode: ModeDryRun,
		Ledger: LedgerConfig{
			Backend:        "file",
			Path:           "./logs/portfolio.json",
			InitialBalance: 100,
		},
		Execution: ExecutionConfig{
			CommissionBps: 10,
			SlippageBps:   20,
			MinFill:       0.6,
			MaxFill:       1.0,
			WalkWidth:     0.08,
		},
		Risk: RiskConfig{
			MaxPositionSize: 0.1,
			RiskPerTrade:    0.02,
			TakeProfit:      0.15,
			StopLoss:        0.05,
			MaxDailyTrades:  10,
			MaxDailyLoss:    0.1,
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./logs/trades.db",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// ForMode returns the defaults for mode. Paper trading uses its own ledger
// and journal files.
func ForMode(mode string) (*Config, error) {
	cfg := Default()
	if err := cfg.SetMode(mode); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetMode switches c to mode, moving default ledger and journal paths along
// with it. Paths the user changed are kept.
func (c *Config) SetMode(mode string) error {
	mode = strings.ToLower(strings.TrimSpace(mode))
	def := Default()

	switch mode {
	case ModeDryRun:
		if c.Ledger.Path == paperLedgerPath {
			c.Ledger.Path = def.Ledger.Path
		}
		if c.Journal.DBPath == paperJournalPath {
			c.Journal.DBPath = def.Journal.DBPath
		}
	case ModePaper:
		if c.Ledger.Path == def.Ledger.Path {
			c.Ledger.Path = paperLedgerPath
		}
		if c.Journal.DBPath == def.Journal.DBPath {
			c.Journal.DBPath = paperJournalPath
		}
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	c.Mode = mode
	return nil
}

// EffectiveExecution is the fill model the mode actually trades with.
// Dry-run fills are perfect and free whatever the execution section says.
func (c *Config) EffectiveExecution() ExecutionConfig {
	e := c.Execution
	if c.Mode == ModeDryRun {
		e.CommissionBps = 0
		e.SlippageBps = 0
		e.MinFill = 1
		e.MaxFill = 1
	}
	return e
}

const (
	paperLedgerPath  = "./logs/paper_portfolio.json"
	paperJournalPath = "./logs/paper_trades.db"
)

// ApplyEnv loads envFile (if it exists) into the process environment and
// overlays the trading variables onto c. DRY_RUN_BALANCE is in cents.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if v, ok := os.LookupEnv("TRADING_MODE"); ok {
		if err := c.SetMode(v); err != nil {
			return fmt.Errorf("TRADING_MODE: %w", err)
		}
	}

	var errs []error
	if v, ok := os.LookupEnv("DRY_RUN_BALANCE"); ok {
		cents, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("DRY_RUN_BALANCE: %w", err))
		} else {
			c.Ledger.InitialBalance = float64(cents) / 100
		}
	}
	envFloat("MAX_POSITION_SIZE", &c.Risk.MaxPositionSize, &errs)
	envFloat("RISK_PER_TRADE", &c.Risk.RiskPerTrade, &errs)
	envFloat("STOP_LOSS_PERCENTAGE", &c.Risk.StopLoss, &errs)
	envFloat("TAKE_PROFIT_PERCENTAGE", &c.Risk.TakeProfit, &errs)
	envFloat("MAX_DAILY_LOSS", &c.Risk.MaxDailyLoss, &errs)
	if v, ok := os.LookupEnv("MAX_DAILY_TRADES"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_DAILY_TRADES: %w", err))
		} else {
			c.Risk.MaxDailyTrades = n
		}
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}
	return errors.Join(errs...)
}

func envFloat(key string, dst *float64, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}
