package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mattjoyce/switchboard/internal/api"
	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/broker"
	"github.com/mattjoyce/switchboard/internal/capability"
	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/endpoint"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/metrics"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/state"
	"github.com/mattjoyce/switchboard/internal/webhook"
)

const (
	hubCapacity   = 256
	loopBuffer    = 64
	pruneInterval = time.Hour
)

// app holds the wired components of one running host.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	table    *endpoint.Table
	broker   *broker.Broker
	hub      *events.Hub
	loop     *events.Loop
	bus      *events.Bus
	plugins  *api.Plugins
	messages *state.MessageLog

	api     *api.Server
	webhook *webhook.Server
}

// hostTable returns the endpoints the host exposes to plugins.
func hostTable(store capability.SettingsBackend, compiler *capability.Compiler) (*endpoint.Table, error) {
	table := endpoint.NewTable()
	if err := capability.NewSettings(store).Register(table); err != nil {
		return nil, fmt.Errorf("register settings endpoints: %w", err)
	}
	if err := compiler.Register(table); err != nil {
		return nil, fmt.Errorf("register compiler endpoints: %w", err)
	}
	return table, nil
}

func newApp(cfg *config.Config, db *sql.DB) (*app, error) {
	codec, err := protocol.CodecByName(cfg.Service.Codec)
	if err != nil {
		return nil, err
	}

	allow := make(map[string][]string, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		allow[p.Title] = p.Allow
	}
	policy, err := auth.NewPolicy(allow)
	if err != nil {
		return nil, err
	}

	compiler := capability.NewCompiler()
	table, err := hostTable(state.NewSettingsStore(db), compiler)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{cfg: cfg, registry: reg, table: table}

	opts := broker.Options{
		Codec:      codec,
		Authorizer: policy,
		Metrics:    metrics.New(reg),
		Logger:     log.WithComponent("broker"),
	}
	var history api.MessageHistory
	if cfg.State.AuditMessages {
		a.messages = state.NewMessageLog(db)
		opts.Recorder = a.messages
		history = a.messages
	}
	a.broker = broker.New(table, opts)

	a.hub = events.NewHub(hubCapacity)
	a.loop = events.NewLoop(loopBuffer)
	a.bus = events.NewBus(a.broker, a.hub, cfg.Execution.Backend)
	a.bus.OnCompilation(compiler.Observe)

	a.plugins = api.NewPlugins(a.broker, policy, a.hub, cfg.API.OutboxSize)
	for _, p := range cfg.Plugins {
		if _, err := a.plugins.Attach(p.Title, p.URL, p.Allow); err != nil {
			return nil, fmt.Errorf("plugin %q: %w", p.Title, err)
		}
	}

	dispatcher := a.loop.Serialized(a.bus)

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		a.api = api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, api.Deps{
			Router:     a.broker,
			Plugins:    a.plugins,
			Loop:       a.loop,
			Dispatcher: dispatcher,
			Hub:        a.hub,
			History:    history,
			Gatherer:   reg,
		}, log.WithComponent("api"))
	}

	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		wc, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			return nil, fmt.Errorf("configure webhooks: %w", err)
		}
		a.webhook = webhook.New(wc, dispatcher, log.WithComponent("webhook"))
	}

	return a, nil
}

// start launches every component. Failures are reported on errCh.
func (a *app) start(ctx context.Context, errCh chan<- error, logger *slog.Logger) {
	go func() {
		if err := a.loop.Run(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("event loop: %w", err)
		}
	}()

	if a.api != nil {
		go func() {
			if err := a.api.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", a.cfg.API.Listen)
	}

	if a.webhook != nil {
		go func() {
			if err := a.webhook.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", a.cfg.Webhooks.Listen, "endpoints", len(a.cfg.Webhooks.Endpoints))
	}

	if a.messages != nil && a.cfg.State.MessageRetention > 0 {
		go a.pruneMessages(ctx, logger)
	}
}

func (a *app) pruneMessages(ctx context.Context, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		n, err := a.messages.Prune(ctx, a.cfg.State.MessageRetention)
		switch {
		case err != nil:
			logger.Warn("message log prune failed", "error", err)
		case n > 0:
			logger.Info("message log pruned", "removed", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
