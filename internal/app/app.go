// Package app wires configuration into the store, backend and agent pool
// shared by the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SCUT-HCC/TradeSwarm/internal/backend"
	"github.com/SCUT-HCC/TradeSwarm/internal/config"
	"github.com/SCUT-HCC/TradeSwarm/internal/pool"
	"github.com/SCUT-HCC/TradeSwarm/internal/store"
)

// AgentPrefix prefixes the ids of agents registered by NewPool.
const AgentPrefix = "agent"

// echoDelay simulates model latency when no backend URL is configured.
const echoDelay = 200 * time.Millisecond

// OpenStore opens the configured driver and starts a Store over it.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.Store, error) {
	var driver store.Driver
	switch cfg.StoreDriver {
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		driver = store.NewRedisDriver(client, "")
	default:
		d, err := store.NewSQLiteDriver(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		driver = d
	}

	logger.Info("store opened", "driver", cfg.StoreDriver)
	return store.New(driver, store.Options{PollInterval: cfg.PollInterval}, logger), nil
}

// LoadProfile reads the configured agent profile, if any.
func LoadProfile(cfg config.Config) (*backend.Profile, error) {
	if cfg.AgentProfile == "" {
		return nil, nil
	}
	return backend.LoadProfile(cfg.AgentProfile)
}

// NewBackend returns a chat client for cfg.BackendURL, or the local echo
// backend when no URL is set. profile may be nil.
func NewBackend(cfg config.Config, profile *backend.Profile) backend.Backend {
	if cfg.BackendURL == "" {
		return &backend.Echo{Delay: echoDelay}
	}
	opts := backend.ChatOptions{
		BaseURL: cfg.BackendURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	}
	if profile != nil {
		opts = profile.ChatOptions(opts)
	}
	return backend.NewChatClient(opts)
}

// NewPool creates the agent pool and registers n agents over b. The
// returned ids are in registration order.
func NewPool(cfg config.Config, n int, b backend.Backend, profile *backend.Profile, logger *slog.Logger) (*pool.Pool, []string, error) {
	p, err := pool.New(pool.Options{
		MaxConcurrent:   cfg.MaxConcurrent,
		Rate:            cfg.RateLimit,
		Capacity:        cfg.RateCapacity,
		DispatchTimeout: cfg.DispatchTimeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	ids := p.RegisterN(AgentPrefix, n, func(i int) pool.Worker {
		name := fmt.Sprintf("%s_%03d", AgentPrefix, i+1)
		agentCfg := backend.AgentConfig{Name: name}
		if profile != nil {
			agentCfg = profile.AgentConfig(name)
		}
		return backend.NewAgent(agentCfg, b, logger)
	})
	return p, ids, nil
}

// RunRetention purges sessions older than retention every interval until
// ctx is done.
func RunRetention(ctx context.Context, st *store.Store, retention, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.Cleanup(ctx, retention); err != nil {
				logger.Warn("schedule retention sweep", "error", err)
				return
			}
		}
	}
}
