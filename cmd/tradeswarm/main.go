package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/api"
	"github.com/SCUT-HCC/TradeSwarm/internal/app"
	"github.com/SCUT-HCC/TradeSwarm/internal/config"
)

// retentionInterval is how often old sessions are swept.
const retentionInterval = time.Hour

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("tradeswarm: starting",
		"listen_addr", cfg.ListenAddr,
		"store_driver", cfg.StoreDriver,
		"agents", cfg.Agents,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	profile, err := app.LoadProfile(cfg)
	if err != nil {
		log.Fatalf("failed to load agent profile: %v", err)
	}
	p, _, err := app.NewPool(cfg, cfg.Agents, app.NewBackend(cfg, profile), profile, logger)
	if err != nil {
		log.Fatalf("failed to create agent pool: %v", err)
	}

	go app.RunRetention(ctx, st, cfg.Retention, retentionInterval, logger)

	srv := api.NewServer(cfg.ListenAddr, st, p, api.Options{
		InputTimeout:    cfg.InputTimeout,
		DispatchTimeout: cfg.DispatchTimeout,
	}, logger)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
	}
}
