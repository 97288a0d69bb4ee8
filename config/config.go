// Package config loads the market maker's runtime configuration in three
// layers, in the teacher's load/override/defaults order: an optional
// deployment YAML file for ambient venue settings, then a .env file,
// then the PM_* strategy environment variables, which always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration for one market-making
// process.
type Config struct {
	API               APIConfig
	Signer            SignerConfig
	Strategy          StrategyConfig
	Inventory         InventoryConfig
	OFI               OFIConfig
	Log               LogConfig
	DryRun            bool
	EntryGraceSeconds int
	MarketSlugPrefix  string
}

// APIConfig holds the venue's base URLs.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	WSBase    string `yaml:"ws_base"`
}

// SignerConfig holds credentials for order signing. PrivateKey may be
// empty only in dry-run mode; validate rejects an empty key otherwise.
type SignerConfig struct {
	PrivateKey string
	APIKey     string
	APISecret  string
	APIPassphrase string
}

// StrategyConfig holds the Coordinator/Executor pricing and gating
// parameters (spec.md §6).
type StrategyConfig struct {
	PairTarget       float64
	BidSize          float64
	TickSize         float64
	RepriceThreshold float64
	DebounceMS       int
}

// InventoryConfig holds the InventoryManager's can_open gates.
type InventoryConfig struct {
	MaxNetDiff       float64
	MaxPortfolioCost float64
	MaxPositionValue float64
}

// OFIConfig holds the OFIEngine's window and toxicity parameters.
type OFIConfig struct {
	WindowMS            int
	ToxicityThreshold   float64
	HeartbeatMS         int
}

// LogConfig controls format and level, in the teacher's convention.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DebounceInterval returns StrategyConfig.DebounceMS as a Duration.
func (s StrategyConfig) DebounceInterval() time.Duration {
	return time.Duration(s.DebounceMS) * time.Millisecond
}

// Window returns OFIConfig.WindowMS as a Duration.
func (o OFIConfig) Window() time.Duration {
	return time.Duration(o.WindowMS) * time.Millisecond
}

// Heartbeat returns OFIConfig.HeartbeatMS as a Duration.
func (o OFIConfig) Heartbeat() time.Duration {
	return time.Duration(o.HeartbeatMS) * time.Millisecond
}

// deploymentFile is an optional YAML overlay for the ambient venue
// settings (base URLs, log format) that rarely change per-run and are
// awkward to keep in a shell environment. Strategy parameters are
// intentionally absent here: they always come from PM_* so a scenario
// replay never silently reads a stale checked-in value.
type deploymentFile struct {
	API APIConfig `yaml:"api"`
	Log LogConfig `yaml:"log"`
}

// Load reads an optional YAML deployment file, then .env, then the PM_*
// environment (highest precedence), applying defaults for anything left
// unset. It validates the result before returning.
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	if yamlPath != "" {
		if err := applyYAMLOverlay(cfg, yamlPath); err != nil {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}

	_ = godotenv.Load()
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

func applyYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}

	var overlay deploymentFile
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse YAML %q: %w", path, err)
	}

	if overlay.API.CLOBBase != "" {
		cfg.API.CLOBBase = overlay.API.CLOBBase
	}
	if overlay.API.GammaBase != "" {
		cfg.API.GammaBase = overlay.API.GammaBase
	}
	if overlay.API.WSBase != "" {
		cfg.API.WSBase = overlay.API.WSBase
	}
	if overlay.Log.Level != "" {
		cfg.Log.Level = overlay.Log.Level
	}
	if overlay.Log.Format != "" {
		cfg.Log.Format = overlay.Log.Format
	}
	return nil
}

func setDefaults(cfg *Config) {
	cfg.API.CLOBBase = "https://clob.polymarket.com"
	cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	cfg.API.WSBase = "wss://ws-subscriptions-clob.polymarket.com/ws"

	cfg.Strategy = StrategyConfig{
		PairTarget:       0.99,
		BidSize:          2.0,
		TickSize:         0.001,
		RepriceThreshold: 0.010,
		DebounceMS:       500,
	}
	cfg.Inventory = InventoryConfig{
		MaxNetDiff:       5.0,
		MaxPortfolioCost: 1.02,
		MaxPositionValue: 5.0,
	}
	cfg.OFI = OFIConfig{
		WindowMS:          3000,
		ToxicityThreshold: 50,
		HeartbeatMS:       200,
	}
	cfg.Log = LogConfig{Level: "info", Format: "text"}
	cfg.EntryGraceSeconds = 30
}

func applyEnvOverrides(cfg *Config) {
	envBool("PM_DRY_RUN", &cfg.DryRun)
	envString("PM_CLOB_BASE", &cfg.API.CLOBBase)
	envString("PM_GAMMA_BASE", &cfg.API.GammaBase)
	envString("PM_WS_BASE", &cfg.API.WSBase)

	envString("PM_PRIVATE_KEY", &cfg.Signer.PrivateKey)
	envString("PM_API_KEY", &cfg.Signer.APIKey)
	envString("PM_API_SECRET", &cfg.Signer.APISecret)
	envString("PM_API_PASSPHRASE", &cfg.Signer.APIPassphrase)

	envFloat("PM_PAIR_TARGET", &cfg.Strategy.PairTarget)
	envFloat("PM_BID_SIZE", &cfg.Strategy.BidSize)
	envFloat("PM_TICK_SIZE", &cfg.Strategy.TickSize)
	envFloat("PM_REPRICE_THRESHOLD", &cfg.Strategy.RepriceThreshold)
	envInt("PM_DEBOUNCE_MS", &cfg.Strategy.DebounceMS)

	envFloat("PM_MAX_NET_DIFF", &cfg.Inventory.MaxNetDiff)
	envFloat("PM_MAX_PORTFOLIO_COST", &cfg.Inventory.MaxPortfolioCost)
	envFloat("PM_MAX_POSITION_VALUE", &cfg.Inventory.MaxPositionValue)

	envInt("PM_OFI_WINDOW_MS", &cfg.OFI.WindowMS)
	envFloat("PM_OFI_TOXICITY_THRESHOLD", &cfg.OFI.ToxicityThreshold)
	envInt("PM_OFI_HEARTBEAT_MS", &cfg.OFI.HeartbeatMS)

	envInt("PM_ENTRY_GRACE_SECONDS", &cfg.EntryGraceSeconds)
	envString("PM_MARKET_SLUG_PREFIX", &cfg.MarketSlugPrefix)

	envString("LOG_LEVEL", &cfg.Log.Level)
	envString("LOG_FORMAT", &cfg.Log.Format)
}

func validate(cfg *Config) error {
	if cfg.Strategy.TickSize <= 0 || cfg.Strategy.TickSize >= 1 {
		return fmt.Errorf("PM_TICK_SIZE must be in (0,1): got %v", cfg.Strategy.TickSize)
	}
	if cfg.Strategy.PairTarget <= 0 || cfg.Strategy.PairTarget > 1 {
		return fmt.Errorf("PM_PAIR_TARGET must be in (0,1]: got %v", cfg.Strategy.PairTarget)
	}
	if cfg.Strategy.BidSize <= 0 {
		return fmt.Errorf("PM_BID_SIZE must be positive: got %v", cfg.Strategy.BidSize)
	}
	if cfg.Inventory.MaxNetDiff <= 0 {
		return fmt.Errorf("PM_MAX_NET_DIFF must be positive: got %v", cfg.Inventory.MaxNetDiff)
	}
	if cfg.OFI.ToxicityThreshold <= 0 {
		return fmt.Errorf("PM_OFI_TOXICITY_THRESHOLD must be positive: got %v", cfg.OFI.ToxicityThreshold)
	}
	if !cfg.DryRun && cfg.Signer.PrivateKey == "" {
		return fmt.Errorf("PM_PRIVATE_KEY is required outside PM_DRY_RUN")
	}
	if cfg.MarketSlugPrefix == "" {
		return fmt.Errorf("PM_MARKET_SLUG_PREFIX is required")
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}
