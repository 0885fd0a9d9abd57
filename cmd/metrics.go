// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Thermoquad/zwrange/pkg/config"
)

var metricsServer *http.Server

// newRegistry creates the registry every command registers its series on
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func startMetricsServer(mc config.MetricsConfig, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle(mc.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              mc.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsServer = srv

	go func() {
		logger.Info("serving metrics", zap.String("addr", mc.Addr), zap.String("path", mc.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func stopMetricsServer() {
	if metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", zap.Error(err))
	}
	metricsServer = nil
}
