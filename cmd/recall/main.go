// Copyright 2025 Recall Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command recall runs the multi-source knowledge collector: a durable
// indexing engine over pluggable source connectors plus a hybrid,
// personalized search API.
//
// Usage:
//
//	recall serve
//	recall index --source issue-tracker --full
//	recall schema
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/recallhq/recall/pkg/analytics"
	"github.com/recallhq/recall/pkg/chunk"
	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/connector"
	"github.com/recallhq/recall/pkg/embed"
	"github.com/recallhq/recall/pkg/engine"
	"github.com/recallhq/recall/pkg/health"
	"github.com/recallhq/recall/pkg/index"
	"github.com/recallhq/recall/pkg/kv"
	"github.com/recallhq/recall/pkg/search"
	"github.com/recallhq/recall/pkg/server"
	"github.com/recallhq/recall/pkg/source"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server and indexing engine."`
	Index   IndexCmd   `cmd:"" help:"Run indexing once and wait for completion."`
	Schema  SchemaCmd  `cmd:"" help:"Generate JSON Schema for the configuration."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text, json)." default:"text"`
	LogFile   string `help:"Log file path (empty = stderr)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("recall version %s\n", version)
	return nil
}

// app holds the wired service graph.
type app struct {
	cfg      *config.Config
	store    *kv.Store
	idx      *index.Store
	engine   *engine.Engine
	search   *search.Service
	checker  *health.Checker
	recorder *analytics.Recorder
}

// buildApp loads configuration and wires every service. Fatal
// configuration problems surface here so commands can exit non-zero
// before touching any state.
func buildApp(ctx context.Context) (*app, error) {
	config.LoadDotEnv(".env")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	chunk.SetEncoding(cfg.TokenizerEncoding)

	store, err := kv.New(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to KV store: %w", err)
	}

	embedClient, err := embed.NewClient(cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to build embedder: %w", err)
	}
	cached := embed.NewCachedClient(embedClient, store)

	idx, err := index.New(cfg.IndexURL, cfg.IndexName, cached)
	if err != nil {
		return nil, fmt.Errorf("failed to build index store: %w", err)
	}
	if err := idx.EnsureIndex(ctx); err != nil {
		return nil, err
	}

	registry, err := connector.NewRegistry()
	if err != nil {
		return nil, err
	}
	recorder := analytics.NewRecorder(store)
	eng := engine.New(registry, store, idx, recorder)
	if err := eng.RecoverStartupState(ctx); err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    store,
		idx:      idx,
		engine:   eng,
		search:   search.New(idx, cached, embed.NewReranker(cfg.Reranker)),
		checker:  health.New(registry, store, idx),
		recorder: recorder,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("failed to close KV store", "error", err)
	}
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides PORT)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if c.Port != 0 {
		a.cfg.Port = c.Port
	}

	srv := server.New(a.cfg, a.engine, a.search, a.checker, a.recorder, a.store)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if err := a.engine.Shutdown(shutdownCtx); err != nil {
		slog.Error("engine shutdown failed", "error", err)
	}
	return nil
}

// IndexCmd runs indexing from the command line and blocks until the
// started runs settle.
type IndexCmd struct {
	Source string `help:"Single source to index (default: all enabled sources)."`
	Full   bool   `help:"Force a full reindex."`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	req := connector.IndexRequest{FullReindex: c.Full}

	var watched []source.Source
	if c.Source != "" {
		src, ok := source.Canonical(c.Source)
		if !ok {
			return fmt.Errorf("unknown source %q", c.Source)
		}
		if err := a.engine.StartIndexing(ctx, src, req); err != nil {
			return err
		}
		watched = []source.Source{src}
	} else {
		watched, err = a.engine.IndexAll(ctx, req)
		if err != nil {
			return err
		}
		if len(watched) == 0 {
			fmt.Println("no sources to index")
			return nil
		}
	}

	if err := c.wait(ctx, a, watched); err != nil {
		return err
	}
	return a.engine.Shutdown(ctx)
}

// wait polls job statuses until every watched source leaves the running
// state, then prints a summary line per source.
func (c *IndexCmd) wait(ctx context.Context, a *app, watched []source.Source) error {
	// Give the background runs a moment to emit their running status.
	time.Sleep(time.Second)

	for {
		statuses, err := a.store.GetAllJobStatus(ctx, watched)
		if err != nil {
			return err
		}

		running := false
		for _, status := range statuses {
			if status.Status == kv.RunRunning {
				running = true
				break
			}
		}
		if !running {
			for _, status := range statuses {
				fmt.Printf("%s: %s (%d documents)\n", status.Source, status.Status, status.DocumentsIndexed)
			}
			return nil
		}
		time.Sleep(time.Second)
	}
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("recall"),
		kong.Description("Multi-source knowledge collector with hybrid search."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFormat, cli.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
