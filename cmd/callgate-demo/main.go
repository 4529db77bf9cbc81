// ABOUTME: Demo CLI that drives callgate pipelines against an in-memory store.
// ABOUTME: Usage: callgate-demo [-config demo.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/probablyarth/callgate"
	"github.com/probablyarth/callgate/internal/config"
	"github.com/probablyarth/callgate/memstore"
)

var errSimulated = errors.New("simulated upstream failure")

// record is what a scenario fetch returns for one key.
type record struct {
	ID   string
	Body string
}

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal(err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, os.Stdout, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, w io.Writer, cfg *config.Config) error {
	w = &syncWriter{w: w}
	logger := newLogger(w, cfg.Logging)
	store := memstore.New(memstore.WithLogger(logger))
	unsubscribe := store.Subscribe(traceAction(w))
	defer unsubscribe()

	for _, sc := range cfg.Scenarios {
		counts, err := runScenario(ctx, logger, store, cfg.Cache.TTL, sc)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		printSummary(w, sc.Name, counts)
	}
	return nil
}

// runScenario fires every round of sc and returns how many times the
// underlying fetch ran per key.
func runScenario(ctx context.Context, logger *slog.Logger, store *memstore.Store, ttl time.Duration, sc config.Scenario) (map[string]int32, error) {
	counts := make(map[string]*atomic.Int32, len(sc.Keys))
	for _, k := range sc.Keys {
		counts[k] = &atomic.Int32{}
	}

	fetch := callgate.New(sc.Name, func(ctx context.Context, s callgate.Store, id string) (record, error) {
		counts[id].Add(1)

		select {
		case <-time.After(sc.Latency):
		case <-ctx.Done():
			return record{}, ctx.Err()
		}
		if sc.Fail {
			return record{}, errSimulated
		}
		return record{ID: id, Body: fmt.Sprintf("%s-%s@%s", sc.Name, id, time.Now().Format("15:04:05.000"))}, nil
	})

	op, err := callgate.Compose(fetch,
		callgate.Tag[string, record](callgate.Prefixed(sc.Name, func(id string) string { return id })),
		callgate.Gate[string, record](func(r record) callgate.Action {
			return memstore.SetValue{Key: callgate.Join(sc.Name, r.ID), Value: r.Body}
		}, callgate.WithTTL(ttl)),
		callgate.Dedupe[string, record](callgate.WithObserver(callgate.SlogObserver(logger))),
	)
	if err != nil {
		return nil, err
	}

	for round := 1; round <= sc.Rounds; round++ {
		logger.Info("round", slog.String("scenario", sc.Name), slog.Int("round", round))

		var g errgroup.Group
		for _, key := range sc.Keys {
			for range sc.Callers {
				caller := uuid.NewString()[:8]
				g.Go(func() error {
					_, err := op.Call(ctx, store, key)
					if err != nil {
						logger.Warn("call failed",
							slog.String("caller", caller),
							slog.String("key", key),
							slog.Any("error", err))
						return nil
					}
					logger.Debug("call settled", slog.String("caller", caller), slog.String("key", key))
					return nil
				})
			}
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	out := make(map[string]int32, len(counts))
	for k, n := range counts {
		out[k] = n.Load()
	}
	return out, nil
}

func traceAction(w io.Writer) func(callgate.Action) {
	var mu sync.Mutex
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	return func(a callgate.Action) {
		mu.Lock()
		defer mu.Unlock()
		switch a := a.(type) {
		case callgate.RequestBegin:
			yellow.Fprintf(w, "  → %-14s %s\n", a.ActionType(), a.Key)
		case callgate.RequestEnd:
			green.Fprintf(w, "  ← %-14s %s\n", a.ActionType(), a.Key)
		case callgate.RequestError:
			red.Fprintf(w, "  ✗ %-14s %s: %v\n", a.ActionType(), a.Key, a.Err)
		case callgate.CacheSet:
			cyan.Fprintf(w, "  • %-14s %s at %s\n", a.ActionType(), a.Key, a.Timestamp.Format("15:04:05.000"))
		case memstore.SetValue:
			cyan.Fprintf(w, "  • %-14s %s = %v\n", a.ActionType(), a.Key, a.Value)
		}
	}
}

func printSummary(w io.Writer, name string, counts map[string]int32) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bold := color.New(color.Bold)
	bold.Fprintf(w, "%s: fetch invocations per key\n", name)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %d\n", k, counts[k])
	}
}
