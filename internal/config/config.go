package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LoggingConfig `yaml:"log"`
	REST        RESTConfig    `yaml:"rest"`
	WS          WSConfig      `yaml:"ws"`
	State       StateConfig   `yaml:"state"`
	Loop        LoopConfig    `yaml:"loop"`
	Defaults    InstrumentConfig
	Instruments []InstrumentConfig
	Reconciler  ReconcilerConfig `yaml:"reconciler"`
	Journal     JournalConfig    `yaml:"journal"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Telegram    TelegramConfig   `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath  string `yaml:"sqlite_path"`
	RatchetPath string `yaml:"ratchet_path"`
}

type LoopConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// InstrumentConfig carries everything one symbol needs. Zero fields fall
// back to the deployment-wide defaults block.
type InstrumentConfig struct {
	Symbol        string
	AssetClass    string
	Leverage      int
	AllocationUSD float64
	Grid          GridConfig
	Ratchet       RatchetConfig
	Gatekeeper    GatekeeperConfig
}

type GridConfig struct {
	StepPct     float64 `yaml:"step_pct"`
	MaxRangePct float64 `yaml:"max_range_pct"`
}

type RatchetConfig struct {
	StopLossPct   float64
	ActivationUSD float64
	Pullback      float64
	HighProfitROE float64
	TightPullback float64
	FloorUSD      float64
	MaxROELossPct float64

	hasActivation bool
	hasPullback   bool
}

type GatekeeperConfig struct {
	Policy         string        `yaml:"policy"`
	LookbackBars   int           `yaml:"lookback_bars"`
	CandleInterval string        `yaml:"candle_interval"`
	ThresholdPct   float64       `yaml:"threshold_pct"`
	PauseDuration  time.Duration `yaml:"pause_duration"`
}

type ReconcilerConfig struct {
	PriceTolerancePct float64 `yaml:"price_tolerance_pct"`
	CoverSizeRatio    float64 `yaml:"cover_size_ratio"`
	SlippagePct       float64 `yaml:"slippage_pct"`
}

type JournalConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

const (
	PolicyDefensive     = "defensive"
	PolicyOpportunistic = "opportunistic"

	AssetClassMajor = "major"
	AssetClassMeme  = "meme"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	cfg := raw.config()
	applyDefaults(cfg)
	return cfg, validate(cfg)
}

// rawConfig records which ratchet fields were set explicitly: activation and
// pullback default per asset class, so zero is not a usable sentinel.
type rawConfig struct {
	Log         LoggingConfig    `yaml:"log"`
	REST        RESTConfig       `yaml:"rest"`
	WS          WSConfig         `yaml:"ws"`
	State       StateConfig      `yaml:"state"`
	Loop        LoopConfig       `yaml:"loop"`
	Defaults    rawInstrument    `yaml:"defaults"`
	Instruments []rawInstrument  `yaml:"instruments"`
	Reconciler  ReconcilerConfig `yaml:"reconciler"`
	Journal     JournalConfig    `yaml:"journal"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Telegram    TelegramConfig   `yaml:"telegram"`
}

type rawInstrument struct {
	Symbol        string           `yaml:"symbol"`
	AssetClass    string           `yaml:"asset_class"`
	Leverage      int              `yaml:"leverage"`
	AllocationUSD float64          `yaml:"allocation_usd"`
	Grid          GridConfig       `yaml:"grid"`
	Ratchet       rawRatchet       `yaml:"ratchet"`
	Gatekeeper    GatekeeperConfig `yaml:"gatekeeper"`
}

type rawRatchet struct {
	StopLossPct   float64  `yaml:"stop_loss_pct"`
	ActivationUSD *float64 `yaml:"activation_usd"`
	Pullback      *float64 `yaml:"pullback"`
	HighProfitROE float64  `yaml:"high_profit_roe"`
	TightPullback float64  `yaml:"tight_pullback"`
	FloorUSD      float64  `yaml:"floor_usd"`
	MaxROELossPct float64  `yaml:"max_roe_loss_pct"`
}

func (r rawConfig) config() *Config {
	cfg := &Config{
		Log:        r.Log,
		REST:       r.REST,
		WS:         r.WS,
		State:      r.State,
		Loop:       r.Loop,
		Defaults:   r.Defaults.instrument(),
		Reconciler: r.Reconciler,
		Journal:    r.Journal,
		Metrics:    r.Metrics,
		Telegram:   r.Telegram,
	}
	for _, inst := range r.Instruments {
		cfg.Instruments = append(cfg.Instruments, inst.instrument())
	}
	return cfg
}

func (r rawInstrument) instrument() InstrumentConfig {
	inst := InstrumentConfig{
		Symbol:        r.Symbol,
		AssetClass:    r.AssetClass,
		Leverage:      r.Leverage,
		AllocationUSD: r.AllocationUSD,
		Grid:          r.Grid,
		Gatekeeper:    r.Gatekeeper,
		Ratchet: RatchetConfig{
			StopLossPct:   r.Ratchet.StopLossPct,
			HighProfitROE: r.Ratchet.HighProfitROE,
			TightPullback: r.Ratchet.TightPullback,
			FloorUSD:      r.Ratchet.FloorUSD,
			MaxROELossPct: r.Ratchet.MaxROELossPct,
		},
	}
	if r.Ratchet.ActivationUSD != nil {
		inst.Ratchet.ActivationUSD = *r.Ratchet.ActivationUSD
		inst.Ratchet.hasActivation = true
	}
	if r.Ratchet.Pullback != nil {
		inst.Ratchet.Pullback = *r.Ratchet.Pullback
		inst.Ratchet.hasPullback = true
	}
	return inst
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-grid-bot.db"
	}
	if cfg.State.RatchetPath == "" {
		cfg.State.RatchetPath = "data/ratchet_state.json"
	}
	if cfg.Loop.TickInterval == 0 {
		cfg.Loop.TickInterval = 15 * time.Second
	}
	if cfg.Reconciler.PriceTolerancePct == 0 {
		cfg.Reconciler.PriceTolerancePct = 0.0005
	}
	if cfg.Reconciler.CoverSizeRatio == 0 {
		cfg.Reconciler.CoverSizeRatio = 0.99
	}
	if cfg.Reconciler.SlippagePct == 0 {
		cfg.Reconciler.SlippagePct = 0.01
	}
	if cfg.Journal.Schema == "" {
		cfg.Journal.Schema = "public"
	}
	applyInstrumentDefaults(&cfg.Defaults, builtinInstrument())
	for i := range cfg.Instruments {
		applyInstrumentDefaults(&cfg.Instruments[i], cfg.Defaults)
	}
}

func builtinInstrument() InstrumentConfig {
	return InstrumentConfig{
		AssetClass: AssetClassMajor,
		Leverage:   10,
		Grid: GridConfig{
			StepPct:     0.001,
			MaxRangePct: 0.01,
		},
		Ratchet: RatchetConfig{
			StopLossPct:   0.03,
			HighProfitROE: 10.0,
			FloorUSD:      0.20,
			MaxROELossPct: 50.0,
		},
		Gatekeeper: GatekeeperConfig{
			Policy:         PolicyDefensive,
			LookbackBars:   15,
			CandleInterval: "1m",
			ThresholdPct:   0.01,
			PauseDuration:  15 * time.Minute,
		},
	}
}

func applyInstrumentDefaults(inst *InstrumentConfig, base InstrumentConfig) {
	if inst.AssetClass == "" {
		inst.AssetClass = base.AssetClass
	}
	if inst.Leverage == 0 {
		inst.Leverage = base.Leverage
	}
	if inst.AllocationUSD == 0 {
		inst.AllocationUSD = base.AllocationUSD
	}
	if inst.Grid.StepPct == 0 {
		inst.Grid.StepPct = base.Grid.StepPct
	}
	if inst.Grid.MaxRangePct == 0 {
		inst.Grid.MaxRangePct = base.Grid.MaxRangePct
	}
	if inst.Ratchet.StopLossPct == 0 {
		inst.Ratchet.StopLossPct = base.Ratchet.StopLossPct
	}
	if inst.Ratchet.HighProfitROE == 0 {
		inst.Ratchet.HighProfitROE = base.Ratchet.HighProfitROE
	}
	if inst.Ratchet.FloorUSD == 0 {
		inst.Ratchet.FloorUSD = base.Ratchet.FloorUSD
	}
	if inst.Ratchet.MaxROELossPct == 0 {
		inst.Ratchet.MaxROELossPct = base.Ratchet.MaxROELossPct
	}
	if !inst.Ratchet.hasActivation {
		if base.Ratchet.hasActivation {
			inst.Ratchet.ActivationUSD = base.Ratchet.ActivationUSD
			inst.Ratchet.hasActivation = true
		} else {
			inst.Ratchet.ActivationUSD = classActivation(inst.AssetClass)
		}
	}
	if !inst.Ratchet.hasPullback {
		if base.Ratchet.hasPullback {
			inst.Ratchet.Pullback = base.Ratchet.Pullback
			inst.Ratchet.hasPullback = true
		} else {
			inst.Ratchet.Pullback = classPullback(inst.AssetClass)
		}
	}
	if inst.Ratchet.TightPullback == 0 {
		if base.Ratchet.TightPullback > 0 {
			inst.Ratchet.TightPullback = base.Ratchet.TightPullback
		} else {
			inst.Ratchet.TightPullback = classTightPullback(inst.AssetClass)
		}
	}
	if inst.Gatekeeper.Policy == "" {
		inst.Gatekeeper.Policy = base.Gatekeeper.Policy
	}
	if inst.Gatekeeper.LookbackBars == 0 {
		inst.Gatekeeper.LookbackBars = base.Gatekeeper.LookbackBars
	}
	if inst.Gatekeeper.CandleInterval == "" {
		inst.Gatekeeper.CandleInterval = base.Gatekeeper.CandleInterval
	}
	if inst.Gatekeeper.ThresholdPct == 0 {
		inst.Gatekeeper.ThresholdPct = base.Gatekeeper.ThresholdPct
	}
	if inst.Gatekeeper.PauseDuration == 0 {
		inst.Gatekeeper.PauseDuration = base.Gatekeeper.PauseDuration
	}
}

// Meme assets ratchet on smaller gains and tolerate wider pullbacks than
// majors; past the high-profit bar the tolerance tightens.
func classActivation(class string) float64 {
	if class == AssetClassMeme {
		return 0.25
	}
	return 0.50
}

func classPullback(class string) float64 {
	if class == AssetClassMeme {
		return 0.40
	}
	return 0.20
}

func classTightPullback(class string) float64 {
	if class == AssetClassMeme {
		return 0.05
	}
	return 0.10
}

func validate(cfg *Config) error {
	if len(cfg.Instruments) == 0 {
		return errors.New("at least one instrument is required")
	}
	seen := make(map[string]struct{}, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		if inst.Symbol == "" {
			return errors.New("instrument symbol is required")
		}
		if _, dup := seen[inst.Symbol]; dup {
			return fmt.Errorf("instrument %s listed more than once", inst.Symbol)
		}
		seen[inst.Symbol] = struct{}{}
		if inst.AllocationUSD <= 0 {
			return fmt.Errorf("instrument %s: allocation_usd must be > 0", inst.Symbol)
		}
		if inst.Leverage <= 0 {
			return fmt.Errorf("instrument %s: leverage must be > 0", inst.Symbol)
		}
		if inst.Grid.StepPct <= 0 {
			return fmt.Errorf("instrument %s: grid.step_pct must be > 0", inst.Symbol)
		}
		if inst.Grid.MaxRangePct < inst.Grid.StepPct {
			return fmt.Errorf("instrument %s: grid.max_range_pct must be >= grid.step_pct", inst.Symbol)
		}
		switch inst.AssetClass {
		case AssetClassMajor, AssetClassMeme:
		default:
			return fmt.Errorf("instrument %s: unknown asset_class %q", inst.Symbol, inst.AssetClass)
		}
		switch inst.Gatekeeper.Policy {
		case PolicyDefensive, PolicyOpportunistic:
		default:
			return fmt.Errorf("instrument %s: unknown gatekeeper.policy %q", inst.Symbol, inst.Gatekeeper.Policy)
		}
		if inst.Gatekeeper.ThresholdPct <= 0 {
			return fmt.Errorf("instrument %s: gatekeeper.threshold_pct must be > 0", inst.Symbol)
		}
	}
	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.DSN) == "" {
		return errors.New("journal.dsn is required when journal.enabled")
	}
	return nil
}
