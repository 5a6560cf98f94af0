package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/secbot-io/secbot/common/bootstrap"
	"github.com/secbot-io/secbot/common/pipeline"
	"github.com/secbot-io/secbot/common/registry"
	"github.com/secbot-io/secbot/common/server"

	// Handler packages register themselves at init.
	_ "github.com/secbot-io/secbot/common/handlers/defectdojo"
	_ "github.com/secbot-io/secbot/common/handlers/gitleaks"
	_ "github.com/secbot-io/secbot/common/handlers/slack"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.Setup(ctx, "secbot-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap worker: %v\n", err)
		os.Exit(1)
	}
	defer rt.Shutdown()

	deps := rt.HandlerDeps()
	input, err := registry.BuildInput("gitlab", deps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build handler input: %v\n", err)
		os.Exit(1)
	}

	engine := pipeline.NewEngine(rt.Broker, rt.Logger, rt.Metrics)
	executor := pipeline.NewExecutor(engine, input, deps)

	go func() {
		if err := rt.Broker.Consume(ctx, executor.Handle); err != nil {
			rt.Logger.Error("task consumer stopped", "error", err)
			cancel()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.DB.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(rt.Metrics.Registry, promhttp.HandlerOpts{}))

	srv := server.New("secbot-worker", rt.Config.Service.Port, mux, rt.Logger)
	if err := srv.Run(ctx); err != nil {
		rt.Logger.Error("health server error", "error", err)
	}
	cancel()
}
