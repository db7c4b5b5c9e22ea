// testserver starts a TradeSwarm API server over an in-memory store and
// echo-backed agents for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/api"
	"github.com/SCUT-HCC/TradeSwarm/internal/app"
	"github.com/SCUT-HCC/TradeSwarm/internal/backend"
	"github.com/SCUT-HCC/TradeSwarm/internal/config"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("TRADESWARM_LISTEN_ADDR"); v != "" {
		addr = v
	}

	cfg := config.Config{
		StoreDriver:     config.DriverSQLite,
		DBPath:          ":memory:",
		MaxConcurrent:   10,
		RateLimit:       50,
		RateCapacity:    50,
		PollInterval:    50 * time.Millisecond,
		InputTimeout:    10 * time.Second,
		DispatchTimeout: 30 * time.Second,
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	st, err := app.OpenStore(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	stub := &backend.Echo{Prefix: "[stub] ", Delay: 100 * time.Millisecond}
	p, _, err := app.NewPool(cfg, 6, stub, nil, logger)
	if err != nil {
		log.Fatalf("failed to create agent pool: %v", err)
	}

	srv := api.NewServer(addr, st, p, api.Options{
		InputTimeout:    cfg.InputTimeout,
		DispatchTimeout: cfg.DispatchTimeout,
	}, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
	}
}
