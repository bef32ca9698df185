// deskbot is the connectivity core of an operator-supervised crypto
// trading client: the dual public/private WebSocket connection manager, the
// authenticated token lifecycle, checksum-driven order book reconstruction,
// the bounded event bus, and the agent subprocess bridge.
//
// Architecture:
//
//	main.go                  — entry point: loads config, wires the core, waits for SIGINT/SIGTERM
//	internal/bus             — bounded multi-producer/single-consumer event routing
//	internal/auth            — credentials, nonce, HMAC-SHA512 signing, token lifecycle
//	internal/book            — incremental order book with checksum resync
//	internal/conn            — public/private WebSocket sessions + Trading RPC
//	internal/reducer         — the sole state mutator, folds bus messages into State
//	internal/agent           — supervises the agent subprocess over stdio
//	internal/store           — persisted risk limits and advisory risk parameters
//	internal/metrics         — Prometheus counters/gauges
//	internal/driver          — owns the bus consumer, dispatches reducer Actions
//	internal/httpapi         — health/metrics/snapshot/websocket observability server
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"deskbot/internal/agent"
	"deskbot/internal/auth"
	"deskbot/internal/bus"
	"deskbot/internal/config"
	"deskbot/internal/conn"
	"deskbot/internal/driver"
	"deskbot/internal/httpapi"
	"deskbot/internal/metrics"
	"deskbot/internal/store"
	"deskbot/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("DESKBOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging.Level, cfg.Logging.Format))

	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	limits, err := st.LoadRiskLimits()
	if err != nil {
		logger.Warn("failed to load risk limits", "error", err)
	}

	b := bus.New(logger)
	b.SetMetrics(m)

	creds := auth.NewHandle(auth.Credentials{APIKey: cfg.Exchange.APIKey, APISecret: cfg.Exchange.APISecret})
	nonce := auth.NewNonce()
	tokenMgr := auth.NewManager(cfg.Exchange.RESTBaseURL, creds, nonce, m, logger)

	manager := conn.New(cfg.Exchange.WSPublicURL, cfg.Exchange.WSPrivateURL, b, tokenMgr, creds, m, logger)

	drv := driver.New(b, manager, nil, st, logger)
	drv.State().SetMetrics(m)

	agentCfg := agent.Config{Command: cfg.Agent.Command, Args: cfg.Agent.Args}
	drv.SetCredentialGating(creds, agentCfg)

	ctx, cancel := context.WithCancel(context.Background())

	go manager.Run(ctx)
	go manager.Public.Run(ctx)
	go drv.Run(ctx)

	var bridge *agent.Bridge
	if cfg.HasCredentials() {
		go manager.Private.Run(ctx)
		drv.MarkPrivateStarted()

		bridge = agent.New(agentCfg, b, logger)
		if err := bridge.Start(ctx); err != nil {
			logger.Error("failed to start agent subprocess", "error", err)
		} else {
			drv.SetBridge(bridge)
		}
	} else {
		logger.Warn("no credentials configured, private session and agent are not started")
	}

	if len(cfg.Exchange.Symbols) > 0 {
		b.TrySendCommand(types.ConnectionCommand{Kind: types.CmdSubscribe, Session: "public", Symbols: cfg.Exchange.Symbols})
	}

	b.TrySendMessage(types.Message{Kind: types.KindRiskLimits, RiskLimits: types.RiskLimits{
		MaxOrderNotional: limits.MaxOrderNotional,
		MaxOpenOrders:    limits.MaxOpenOrders,
		MaxSymbols:       limits.MaxSymbols,
	}})

	if cfg.Dashboard.Port != 0 {
		obsServer := httpapi.NewServer(cfg.Dashboard, drv.State(), reg, logger)
		go func() {
			if err := obsServer.Run(ctx); err != nil {
				logger.Error("observability server stopped", "error", err)
			}
		}()
	}

	logger.Info("deskbot started",
		"simulation", cfg.Simulation,
		"symbols", cfg.Exchange.Symbols,
		"agent_spawned", bridge != nil,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if bridge != nil {
		if err := bridge.Close(); err != nil {
			logger.Error("failed to close agent subprocess", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func newLogHandler(level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
