package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/loykin/pullpilot"
	"github.com/loykin/pullpilot/internal/cron"
	"github.com/loykin/pullpilot/internal/gatewaytest"
	"github.com/loykin/pullpilot/internal/server"
	"github.com/loykin/pullpilot/internal/source"
	tlsutil "github.com/loykin/pullpilot/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 5 * time.Second

// Dashboard runs the web dashboard until ctx is cancelled. ready, when
// set, receives the bound address.
func (c command) Dashboard(ctx context.Context, g GlobalFlags, f DashboardFlags, ready func(addr string)) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if f.Listen != "" {
		cfg.Dashboard.Listen = f.Listen
	}
	log, closer := c.logger(cfg)
	defer func() { _ = closer.Close() }()

	if err := pullpilot.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	notices := server.NewNotices(0, log)
	app, err := pullpilot.New(cfg, pullpilot.Options{
		Notifier: notices,
		Navigator: pullpilot.NavigatorFunc(func() {
			log.Warn("Gateway session expired; dashboard requests now redirect to " + server.LoginPath)
		}),
		Logger: log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	if err := app.Controller.Mount(ctx); err != nil {
		return err
	}
	sched := cron.NewScheduler(log)
	if cfg.Dashboard.Refresh != "" {
		if err := sched.Add(&cron.Job{Name: "refresh", Schedule: cfg.Dashboard.Refresh, Run: app.Controller.Refresh}); err != nil {
			return fmt.Errorf("dashboard.refresh: %w", err)
		}
	}
	app.Guard.AddStopper(sched)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	tlsCfg, err := tlsutil.Setup(cfg.Dashboard.TLS)
	if err != nil {
		return fmt.Errorf("dashboard tls: %w", err)
	}
	srv, err := server.NewServer(cfg.Dashboard.Listen, server.NewRouter(app.Controller, notices, "", log), tlsCfg)
	if err != nil {
		return fmt.Errorf("dashboard listen %s: %w", cfg.Dashboard.Listen, err)
	}
	log.Info("Dashboard listening", "addr", srv.Addr, "tls", tlsCfg != nil, "gateway", cfg.API.URL, "mode", app.Store.Mode())
	if ready != nil {
		ready(srv.Addr)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// GatewaySim serves the fake gateway seeded with the fallback units until
// ctx is cancelled.
func (c command) GatewaySim(ctx context.Context, g GlobalFlags, f GatewaySimFlags, ready func(addr string)) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	log, closer := c.logger(cfg)
	defer func() { _ = closer.Close() }()

	gw := gatewaytest.New(gatewaytest.Options{
		Username:     f.Username,
		Password:     f.Password,
		StepInterval: f.Step,
		Logger:       log,
	}, source.FallbackUnits()...)
	defer gw.Close()

	ln, err := net.Listen("tcp", f.Listen)
	if err != nil {
		return fmt.Errorf("gateway-sim listen %s: %w", f.Listen, err)
	}
	srv := &http.Server{Handler: gw.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	addr := ln.Addr().String()
	log.Info("Gateway simulator listening", "api", "http://"+addr+"/api", "auth", f.Username != "")
	if ready != nil {
		ready(addr)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
