// foremand runs the dispatcher, human-request expirer, and merge worker as
// one long-lived process against a shared Store. There is no HTTP server
// here: the REST/dashboard surface is a narrow external-interface contract
// out of scope for this module.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deepampatel/foreman/internal/adapter"
	"github.com/deepampatel/foreman/internal/adapter/grpcadapter"
	"github.com/deepampatel/foreman/internal/clock"
	"github.com/deepampatel/foreman/internal/config"
	"github.com/deepampatel/foreman/internal/dispatcher"
	"github.com/deepampatel/foreman/internal/gitservice"
	"github.com/deepampatel/foreman/internal/humanloop"
	"github.com/deepampatel/foreman/internal/message"
	"github.com/deepampatel/foreman/internal/otel"
	"github.com/deepampatel/foreman/internal/realtime"
	"github.com/deepampatel/foreman/internal/review"
	"github.com/deepampatel/foreman/internal/storeopen"
	"github.com/deepampatel/foreman/internal/task"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	home, err := config.ResolveHome(os.Getenv("FOREMAN_HOME"))
	if err != nil {
		slog.Error("resolve home", "error", err)
		os.Exit(1)
	}

	st, err := storeopen.Open(ctx, home)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	prices, err := config.LoadPrices(home)
	if err != nil {
		slog.Error("load prices", "error", err)
		os.Exit(1)
	}
	settings := config.Default()
	settings.Prices = prices

	metricsHandler, err := otel.InitMeterProvider(ctx, "foreman")
	if err != nil {
		slog.Warn("otel init failed, metrics disabled", "error", err)
	} else if err := otel.InitMetricsWithTaskCount(ctx, func() map[string]int64 {
		counts := map[string]int64{}
		teams, _ := st.ListTeams(ctx)
		for _, team := range teams {
			tasks, _ := st.ListTasks(ctx, team.ID, "", 0)
			for _, t := range tasks {
				counts[t.Status]++
			}
		}
		return counts
	}); err != nil {
		slog.Warn("otel metrics init failed", "error", err)
	}
	if metricsHandler != nil {
		go serveMetrics(metricsHandler)
	}

	taskEngine := task.New(st, settings.BranchPrefix, settings.SlugMaxLength)
	messages := message.New(st)
	hub := realtime.NewHub()
	humanLoop := humanloop.New(st, clock.Real{})
	expirer := humanloop.NewExpirer(humanLoop, time.Duration(settings.HumanLoopExpiryPollSeconds)*time.Second)
	mergeWorker := review.NewMergeWorker(st, taskEngine, gitservice.ExecGitService{}, home, 0)

	adapters := adapter.NewRegistry(adapter.StubAdapter{})
	if addr := os.Getenv("FOREMAN_GRPC_ADAPTER_ADDR"); addr != "" {
		adapters.Register("grpc", &grpcadapter.Client{Addr: addr})
	}
	disp := dispatcher.New(st, messages, adapters, hub, settings)

	errCh := make(chan error, 3)
	go func() { errCh <- disp.Run(ctx) }()
	go func() { errCh <- expirer.Run(ctx) }()
	go func() { errCh <- mergeWorker.Run(ctx) }()

	slog.Info("foremand started", "home", home)
	for i := 0; i < 3; i++ {
		if err := <-errCh; err != nil && ctx.Err() == nil {
			slog.Error("subsystem exited", "error", err)
		}
	}
}

func serveMetrics(handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	addr := os.Getenv("FOREMAN_METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec // internal metrics endpoint, not user-facing
		slog.Error("metrics server exited", "error", err)
	}
}
