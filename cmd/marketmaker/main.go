package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/pmmaker/config"
	"github.com/alejandrodnm/pmmaker/internal/adapters/polymarket"
	"github.com/alejandrodnm/pmmaker/internal/coordinator"
	"github.com/alejandrodnm/pmmaker/internal/domain"
	"github.com/alejandrodnm/pmmaker/internal/executor"
	"github.com/alejandrodnm/pmmaker/internal/inventory"
	"github.com/alejandrodnm/pmmaker/internal/ofi"
	"github.com/alejandrodnm/pmmaker/internal/rotation"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to deployment config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(2)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("pmmaker starting",
		"config", *configPath,
		"slug_prefix", cfg.MarketSlugPrefix,
		"dry_run", cfg.DryRun,
	)

	privateKey := cfg.Signer.PrivateKey
	if privateKey == "" {
		if !cfg.DryRun {
			slog.Error("PM_PRIVATE_KEY is required outside PM_DRY_RUN")
			os.Exit(2)
		}
		privateKey, err = ephemeralPrivateKey()
		if err != nil {
			slog.Error("failed to generate dry-run signing key", "err", err)
			os.Exit(2)
		}
		slog.Warn("PM_DRY_RUN with no PM_PRIVATE_KEY: signing locally with an ephemeral key, authenticated fills will not arrive")
	}

	gw, err := polymarket.NewGateway(polymarket.GatewayConfig{
		CLOBBase:   cfg.API.CLOBBase,
		GammaBase:  cfg.API.GammaBase,
		WSBase:     cfg.API.WSBase,
		PrivateKey: privateKey,
		EntryGrace: time.Duration(cfg.EntryGraceSeconds) * time.Second,
	}, slog.Default())
	if err != nil {
		slog.Error("failed to build venue gateway", "err", err)
		os.Exit(1)
	}

	sup := rotation.New(rotation.Config{
		SlugPrefix: cfg.MarketSlugPrefix,
		Executor: executor.Config{
			TickSize:         cfg.Strategy.TickSize,
			RepriceThreshold: cfg.Strategy.RepriceThreshold,
			DebounceInterval: cfg.Strategy.DebounceInterval(),
			DryRun:           cfg.DryRun,
		},
		Coordinator: coordinator.Config{
			PairTarget: cfg.Strategy.PairTarget,
			BidSize:    cfg.Strategy.BidSize,
			TickSize:   cfg.Strategy.TickSize,
		},
		OFI: ofi.Config{
			Window:            cfg.OFI.Window(),
			ToxicityThreshold: cfg.OFI.ToxicityThreshold,
			Heartbeat:         cfg.OFI.Heartbeat(),
		},
		Inventory: inventory.Config{
			MaxNetDiff:       cfg.Inventory.MaxNetDiff,
			MaxPortfolioCost: cfg.Inventory.MaxPortfolioCost,
			MaxPositionValue: cfg.Inventory.MaxPositionValue,
			DedupCapacity:    inventory.DefaultConfig().DedupCapacity,
		},
	}, gw.Resolver, gw.Public, gw.User, gw.Clob, slog.Default())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sup.Run(ctx); err != nil {
		slog.Error("pmmaker exited with error", "err", err)
		if errors.Is(err, domain.ErrAuthFailed) {
			os.Exit(1)
		}
		os.Exit(3)
	}

	slog.Info("pmmaker stopped cleanly")
}

// ephemeralPrivateKey generates a throwaway secp256k1 key so the signer
// and its EIP-712 code paths run in dry-run mode without a funded wallet.
func ephemeralPrivateKey() (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.FromECDSA(key)), nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
