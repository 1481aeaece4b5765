package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/vela/comms"
	"pkt.systems/vela/core"
	"pkt.systems/vela/eventbus"
	"pkt.systems/vela/internal/appconfig"
	"pkt.systems/vela/internal/persist"
	"pkt.systems/vela/internal/vault"
	"pkt.systems/vela/webengine"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination core",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func runServe(ctx context.Context, cfg appconfig.Config) error {
	logger := pslog.Ctx(ctx)

	bus, err := eventbus.New(cfg.BusSchema(), eventbus.NewMemoryStore(0), logger)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer bus.Close()

	var codec persist.Codec
	if cfg.Snapshots.Encrypt {
		v, err := vault.New(cfg.Snapshots.KeyStorePath, logger)
		if err != nil {
			return fmt.Errorf("snapshot vault: %w", err)
		}
		codec = v
	}
	store, err := persist.NewStore(cfg.Snapshots.Dir, codec, logger)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}

	deps := core.ServiceDeps{Bus: bus, Store: store, Logger: logger}
	if cfg.Engine.Enabled {
		engine, err := webengine.New(ctx, webengine.Config{
			Headless:   cfg.Engine.Headless,
			ExecPath:   cfg.Engine.ExecPath,
			NavTimeout: cfg.EngineNavTimeout(),
		}, logger)
		if err != nil {
			return fmt.Errorf("browser engine: %w", err)
		}
		defer engine.Close()
		deps.Engine = engine
	}

	svc, err := core.NewService(cfg.ServiceSchema(), deps)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	view := core.NewTabStateView()
	view.Register(bus)

	layer, err := comms.New(cfg.CommsSchema(), svc, nil, bus, logger)
	if err != nil {
		return fmt.Errorf("comms layer: %w", err)
	}
	defer layer.Cleanup()

	optimizer, err := core.NewOptimizer(cfg.OptimizerSchema(), svc, logger)
	if err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	go optimizer.Run(ctx)
	go layer.Run(ctx)

	logger.Info("vela coordination core running",
		"space", svc.ActiveSpace().Name,
		"engine", cfg.Engine.Enabled,
		"encrypted_snapshots", cfg.Snapshots.Encrypt)
	<-ctx.Done()
	logger.Info("vela coordination core stopping")
	return nil
}
