package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rhostcore/rhost/internal/audit"
	"github.com/rhostcore/rhost/internal/buildinfo"
	"github.com/rhostcore/rhost/internal/config"
	"github.com/rhostcore/rhost/internal/credhelper"
	"github.com/rhostcore/rhost/internal/discovery"
	"github.com/rhostcore/rhost/internal/enginesim"
	"github.com/rhostcore/rhost/internal/host"
	"github.com/rhostcore/rhost/internal/telemetry"
	"github.com/rhostcore/rhost/internal/transport"
)

// runServe loads configuration, wires up the host's optional
// components, and runs a single session to completion.
func runServe(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfgPath, err := config.FindConfig(configPath)
	var cfg *config.Config
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = slog.New(config.NewHandler(os.Stderr, level))
	}

	h := host.New(logger)

	sim := enginesim.New(h.Callbacks())
	buildinfo.EngineVersion = sim.Version()
	h.SetEngine(sim)

	if cfg.CredentialHelper.Enabled {
		h.WithCredentialValidator(buildCredentialValidator(cfg.CredentialHelper))
	}

	var auditLog *audit.Log
	if cfg.Audit.Enabled {
		auditLog, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditLog.Close()
		h.WithAudit(auditLog)
	}

	var telemeter *telemetry.Publisher
	if cfg.Telemetry.MQTT.Enabled {
		telemeter = telemetry.New(cfg.Telemetry.MQTT.TopicPrefix, cfg.Telemetry.MQTT.ClientID, logger)
		if err := telemeter.Start(ctx, cfg.Telemetry.MQTT.Broker); err != nil {
			logger.Warn("telemetry connect failed, continuing without it", "error", err)
		} else {
			defer telemeter.Stop(context.Background())
			h.WithTelemetry(telemeter)
		}
	}

	var advertiser *discovery.Advertiser
	if cfg.Discovery.MDNS.Enabled && cfg.Listen.Address == "" {
		advertiser = discovery.NewAdvertiser(cfg.Discovery.MDNS.Instance)
		if err := advertiser.Start(cfg.Listen.Port); err != nil {
			logger.Warn("mDNS advertisement failed, continuing without it", "error", err)
			advertiser = nil
		} else {
			defer advertiser.Stop()
		}
	}

	if cfg.Listen.Address != "" {
		logger.Info("connecting out to client", "address", cfg.Listen.Address)
		return h.ConnectToServer(ctx, cfg.Listen.Address)
	}

	addr := fmt.Sprintf(":%d", cfg.Listen.Port)
	ln := transport.New(addr, logger)
	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- ln.Serve(serveCtx) }()

	logger.Info("waiting for client", "addr", addr)
	runErr := h.WaitForClient(ctx, ln)

	// The listener's single-client guarantee means this process serves
	// exactly one session; once it has run to completion, stop
	// accepting further connections rather than idling until the
	// process itself is signaled.
	stopServe()
	<-serveErrCh

	return runErr
}

func buildCredentialValidator(cfg config.CredHelperConfig) host.CredentialValidator {
	if cfg.PAMHelperPath != "" {
		return credhelper.NewValidator(cfg.PAMHelperPath, cfg.PAMService)
	}
	return credhelper.NewLocalFileValidator(cfg.FallbackCredentialsFile)
}
