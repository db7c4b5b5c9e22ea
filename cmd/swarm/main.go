// swarm dispatches one task to a pool of agents and prints throughput and
// latency statistics. With -symbol it runs the trading workflow instead.
// Usage: go run ./cmd/swarm -agents 50 -task "..."
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/app"
	"github.com/SCUT-HCC/TradeSwarm/internal/config"
	"github.com/SCUT-HCC/TradeSwarm/internal/model"
	"github.com/SCUT-HCC/TradeSwarm/internal/pool"
	"github.com/SCUT-HCC/TradeSwarm/internal/stage"
)

const previewLen = 200

func main() {
	agents := flag.Int("agents", 50, "number of agents to register")
	task := flag.String("task", "Summarize the latest research on treatments for Alzheimer's disease.", "task sent to every agent")
	symbol := flag.String("symbol", "", "run the trading workflow for this symbol instead of a broadcast task")
	flag.Parse()
	if *agents < 1 {
		log.Fatalf("-agents must be at least 1, got %d", *agents)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	profile, err := app.LoadProfile(cfg)
	if err != nil {
		log.Fatalf("failed to load agent profile: %v", err)
	}
	p, ids, err := app.NewPool(cfg, *agents, app.NewBackend(cfg, profile), profile, logger)
	if err != nil {
		log.Fatalf("failed to create agent pool: %v", err)
	}
	fmt.Printf("registered %d agents (%s .. %s)\n", len(ids), ids[0], ids[len(ids)-1])
	fmt.Printf("max concurrent %d, rate %.1f/s, burst %d\n", cfg.MaxConcurrent, cfg.RateLimit, cfg.RateCapacity)

	ctx := context.Background()
	if *symbol != "" {
		if err := runWorkflow(ctx, cfg, p, ids, *symbol, logger); err != nil {
			log.Fatalf("workflow: %v", err)
		}
		return
	}
	broadcast(ctx, p, ids, *task)
}

func broadcast(ctx context.Context, p *pool.Pool, ids []string, task string) {
	fmt.Printf("task: %s\n\n", task)

	start := time.Now()
	results := p.DispatchAll(ctx, task, ids, 0)
	total := time.Since(start)
	s := pool.Summarize(results)

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("agents:     %d\n", s.Total)
	fmt.Printf("succeeded:  %d (%.1f%%)\n", s.Succeeded, percent(s.Succeeded, s.Total))
	fmt.Printf("failed:     %d (%.1f%%)\n", s.Failed, percent(s.Failed, s.Total))
	fmt.Printf("wall time:  %.2fs\n", total.Seconds())
	fmt.Printf("throughput: %.2f agents/s\n", float64(s.Total)/total.Seconds())
	if s.Succeeded > 0 {
		fmt.Printf("latency:    avg %.2fs, min %.2fs, max %.2fs\n",
			s.AvgElapsed.Seconds(), s.MinElapsed.Seconds(), s.MaxElapsed.Seconds())
	}

	shown := 0
	for _, id := range ids {
		r := results[id]
		if !r.Success {
			continue
		}
		fmt.Println(strings.Repeat("-", 60))
		fmt.Printf("[%s] %.2fs\n%s\n", id, r.Elapsed.Seconds(), preview(r.Output))
		if shown++; shown == 3 {
			break
		}
	}
	printFailures(results)
}

func runWorkflow(ctx context.Context, cfg config.Config, p *pool.Pool, ids []string, symbol string, logger *slog.Logger) error {
	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	specs, err := stage.TradingStages(p, ids, symbol, cfg.InputTimeout)
	if err != nil {
		return err
	}
	wf := stage.NewWorkflow(st, specs, logger)
	report, err := wf.Run(ctx, "")
	if report == nil {
		return err
	}

	fmt.Printf("session %s finished in %.2fs\n", report.SessionID, report.Elapsed.Seconds())
	for _, s := range report.Stages {
		line := fmt.Sprintf("  %-13s %-10s %.2fs", s.Name, s.State, s.Duration.Seconds())
		if s.Error != "" {
			line += "  " + s.Error
		}
		fmt.Println(line)
	}

	if err := st.Flush(ctx); err != nil {
		return err
	}
	rec, err := st.Get(ctx, report.SessionID, model.OutputTradingDecision, 0)
	if err != nil {
		return err
	}
	if rec != nil {
		fmt.Printf("\ntrading decision:\n%s\n", preview(string(rec.Payload)))
	}
	return nil
}

func printFailures(results map[string]model.ExecutionResult) {
	var failed []string
	for id, r := range results {
		if !r.Success {
			failed = append(failed, id)
		}
	}
	if len(failed) == 0 {
		return
	}
	sort.Strings(failed)
	fmt.Println(strings.Repeat("-", 60))
	fmt.Println("failures:")
	for _, id := range failed {
		fmt.Printf("  %s: %s\n", id, results[id].Error)
	}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(total)
}

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen] + "..."
}
