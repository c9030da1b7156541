package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-ticketchat/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const statsName = "ticketchat"

// debugServer exposes the client's counters at /debug/vars and
// /metrics. The counters are live from construction; Shutdown stops
// them.
type debugServer struct {
	srv      *http.Server
	expvar   *stats.StatsUpdater
	provider stats.StatsProvider
	log      *log.Logger
}

func newDebugServer(addr string, logger *log.Logger) (*debugServer, error) {
	mux := http.NewServeMux()

	reg := prometheus.NewRegistry()
	prom, err := stats.NewPromStats(reg)
	if err != nil {
		return nil, err
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: logger}))

	su := stats.NewStatsUpdater(mux, statsName)
	su.Run()

	h := handlers.RecoveryHandler(handlers.RecoveryLogger(logger))(mux)
	h = handlers.LoggingHandler(logger.Writer(), h)

	return &debugServer{
		srv: &http.Server{
			Addr:    addr,
			Handler: h,
		},
		expvar:   su,
		provider: stats.Multi{su, prom},
		log:      logger,
	}, nil
}

func (d *debugServer) Handler() http.Handler {
	return d.srv.Handler
}

func (d *debugServer) Start() error {
	d.log.Printf("debug server listening on %s\n", d.srv.Addr)
	if err := d.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (d *debugServer) Shutdown(ctx context.Context) error {
	defer d.expvar.Stop()
	if err := d.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("debug server shutdown: %w", err)
	}
	return nil
}
