package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/nodegraph/internal/api"
	"github.com/gyaneshwarpardhi/nodegraph/internal/config"
	"github.com/gyaneshwarpardhi/nodegraph/internal/engine"
	"github.com/gyaneshwarpardhi/nodegraph/internal/nodes"
	"github.com/gyaneshwarpardhi/nodegraph/internal/registry"
	"github.com/gyaneshwarpardhi/nodegraph/internal/store"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	cfgPath := flag.String("config", "configs/nodegraph.yaml", "Path to nodegraph YAML config")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath, nil)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	logger := config.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	// ── Node registry ────────────────────────────────────────────────────────
	reg := registry.New()
	nodes.Register(reg)

	// ── Store ────────────────────────────────────────────────────────────────
	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// ── Engine ───────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(ctx, reg, cfg.Engine, engine.WithLogger(logger))
	defer eng.Shutdown()

	loadGraph := func(conf config.GraphConf) {
		rec, err := store.LoadConfigured(ctx, conf, st)
		if errors.Is(err, store.ErrNotFound) {
			slog.Info("no stored graph, starting empty", "name", conf.Name)
			return
		}
		if err != nil {
			slog.Warn("graph load failed, keeping current graph", "err", err)
			return
		}
		report, err := eng.Replace(ctx, rec)
		if err != nil {
			slog.Warn("graph import failed, keeping current graph", "err", err)
			return
		}
		for _, s := range report.SkippedNodes {
			slog.Warn("node skipped on import", "id", s.ID, "type", s.Type, "reason", s.Reason)
		}
		for _, d := range report.DroppedConnections {
			slog.Warn("connection dropped on import", "output", d.OutputAttrID, "input", d.InputAttrID, "reason", d.Reason)
		}
	}
	loadGraph(cfg.Graph)

	// ── Hot-reload watchers ──────────────────────────────────────────────────
	graphWatch := newGraphWatcher(logger, func() { loadGraph(loader.Config().Graph) })
	defer graphWatch.Close()
	if err := graphWatch.follow(cfg.Graph); err != nil {
		slog.Warn("graph watcher unavailable", "path", cfg.Graph.Path, "err", err)
	}

	loader.OnChange(func(newCfg *config.Config) {
		if newCfg.Engine != cfg.Engine || newCfg.Store != cfg.Store || newCfg.Server != cfg.Server {
			slog.Warn("engine, store and server settings apply on restart")
		}
		loadGraph(newCfg.Graph)
		if err := graphWatch.follow(newCfg.Graph); err != nil {
			slog.Warn("graph watcher unavailable", "path", newCfg.Graph.Path, "err", err)
		}
	})
	if stopWatch, err := loader.Watch(); err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(eng, st, cfg.Graph.Name, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return eng.Run(gctx)
	})

	// ── Graceful shutdown ────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down…")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutCancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("goodbye")
}
