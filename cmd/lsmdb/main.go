package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lsmdb/pkg/config"
	"lsmdb/pkg/db"
)

// main opens a database at -dir, serves a read-only debug HTTP surface at
// -http (stats + Prometheus metrics, spec §9 supplemented feature: an
// embedded engine still wants an introspection endpoint distinct from its
// data path), and runs until interrupted. Argument parsing beyond this is
// explicitly out of scope for the engine itself.
func main() {
	dir := flag.String("dir", "./data", "database directory")
	configPath := flag.String("config", "", "path to a YAML options file (defaults if absent)")
	httpAddr := flag.String("http", "", "address for the debug HTTP surface, e.g. :6060 (disabled if empty)")
	flag.Parse()

	opts := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("lsmdb: failed to load config", "error", err)
			os.Exit(1)
		}
		opts = loaded
	}
	initLogger(opts)

	d, err := db.Open(*dir, opts)
	if err != nil {
		slog.Error("lsmdb: open failed", "dir", *dir, "error", err)
		os.Exit(1)
	}
	defer d.Close()
	slog.Info("lsmdb: opened", "dir", *dir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *httpAddr != "" {
		go serveDebugHTTP(ctx, *httpAddr, d)
	}

	<-ctx.Done()
	slog.Info("lsmdb: shutting down")
}

func initLogger(opts config.Options) {
	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{AddSource: true, Level: parseLevel(opts.Logger.Level)}
	if opts.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// serveDebugHTTP exposes Stats() as JSON and the Prometheus registry, kept
// entirely outside db.DB's core surface so it can never be mistaken for a
// network protocol the engine itself speaks (spec Non-goal: network
// protocols/RPC).
func serveDebugHTTP(ctx context.Context, addr string, d *db.DB) {
	r := chi.NewRouter()
	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := d.Stats()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})
	if reg := d.MetricsRegistry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("lsmdb: debug http server failed", "error", err)
	}
}
