package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/graphmesh/app"
	"github.com/c360/graphmesh/config"
	"github.com/c360/graphmesh/extension"
	"github.com/c360/graphmesh/graph"
	"github.com/c360/graphmesh/metric"
	"github.com/c360/graphmesh/protocol"
	"github.com/c360/graphmesh/transport"
)

const shutdownTimeout = 30 * time.Second

type rootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     appName,
		Short:   "graphmesh runs graphs of message-passing extensions",
		Version: Version,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "app.yaml", "path to the app config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "json", "log format (json|text)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the app, its transports and its graphs",
		RunE: func(*cobra.Command, []string) error {
			return serve(opts)
		},
	}
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and every graph descriptor",
		RunE: func(*cobra.Command, []string) error {
			logger := setupLogger(opts.LogLevel, opts.LogFormat)
			cfg, err := config.LoadFile(opts.ConfigPath)
			if err != nil {
				return err
			}
			for _, g := range cfg.Graphs {
				text, err := cfg.ReadDescriptor(g)
				if err != nil {
					return err
				}
				if _, err := graph.ParseDescriptor(text); err != nil {
					return err
				}
			}
			logger.Info("configuration is valid",
				"transports", len(cfg.Transports),
				"graphs", len(cfg.Graphs))
			return nil
		},
	}
}

func serve(opts *rootOptions) error {
	logger := setupLogger(opts.LogLevel, opts.LogFormat)

	cfg, err := config.LoadFile(opts.ConfigPath)
	if err != nil {
		return err
	}

	if err := protocol.Register(protocol.NewJSONFrame()); err != nil {
		return err
	}

	registry := app.NewRegistry()
	if err := registry.RegisterAddon("default_extension_group",
		func(string, *slog.Logger) (extension.Extension, error) {
			return extension.DefaultExtension{}, nil
		}); err != nil {
		return err
	}
	if err := registry.RegisterAddon("default_extension",
		func(string, *slog.Logger) (extension.Extension, error) {
			return extension.DefaultExtension{}, nil
		}); err != nil {
		return err
	}

	metricsRegistry := metric.NewMetricsRegistry()

	a, err := app.New(app.Config{
		URI:      cfg.URI,
		Registry: registry,
		Logger:   logger,
		Metrics:  metricsRegistry.CoreMetrics(),
	})
	if err != nil {
		return err
	}

	for _, tc := range cfg.Transports {
		t, buildErr := buildTransport(tc, a, logger, metricsRegistry.CoreMetrics())
		if buildErr != nil {
			return buildErr
		}
		a.AttachTransport(t)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		return err
	}

	for _, g := range cfg.Graphs {
		if !g.ShouldAutoStart() {
			continue
		}
		descriptor, readErr := cfg.ReadDescriptor(g)
		if readErr != nil {
			return readErr
		}
		if _, startErr := a.StartGraph(ctx, descriptor, g.Name); startErr != nil {
			return startErr
		}
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		go func() {
			if serveErr := metricsServer.Start(); serveErr != nil {
				logger.Warn("metrics server stopped", "error", serveErr)
			}
		}()
	}

	logger.Info("serving", "uri", cfg.URI, "graphs", len(a.GraphIDs()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("signal received, shutting down", "signal", sig.String())
	case <-a.Done():
		logger.Info("app closed itself")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(stopCtx); err != nil {
			logger.Warn("metrics server shutdown incomplete", "error", err)
		}
	}
	return nil
}

func buildTransport(tc config.TransportConfig, a *app.App,
	logger *slog.Logger, metrics *metric.Metrics) (transport.Transport, error) {
	protoName := tc.Protocol
	if protoName == "" {
		protoName = "jsonframe"
	}
	proto, err := protocol.Get(protoName)
	if err != nil {
		return nil, err
	}

	switch tc.Kind {
	case config.TransportTCP:
		return transport.NewTCPServer(transport.TCPConfig{
			Addr:     tc.Addr,
			Protocol: proto,
			Receiver: a,
			Logger:   logger,
			Metrics:  metrics,
		})
	case config.TransportWebSocket:
		return transport.NewWSServer(transport.WSConfig{
			Addr:     tc.Addr,
			Path:     tc.Path,
			Protocol: proto,
			Receiver: a,
			Logger:   logger,
			Metrics:  metrics,
		})
	case config.TransportNATS:
		return transport.NewNATSTransport(transport.NATSConfig{
			URL:      tc.URL,
			Subject:  tc.Subject,
			Protocol: proto,
			Receiver: a,
			Logger:   logger,
			Metrics:  metrics,
		})
	default:
		return nil, fmt.Errorf("unknown transport kind %q", tc.Kind)
	}
}
