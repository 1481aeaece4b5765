package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/vela/comms"
	"pkt.systems/vela/core"
	"pkt.systems/vela/eventbus"
	"pkt.systems/vela/internal/appconfig"
	"pkt.systems/vela/internal/vault"
	"pkt.systems/vela/schema"
)

// doctor exercises the full coordination path in memory: registry, bus,
// permissions, shared data, optimizer and (when enabled) the snapshot vault.
func newDoctorCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run vela diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			ctx := cmd.Context()

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			logger.Info("doctor start", "config", configPath)

			bus, err := eventbus.New(cfg.BusSchema(), eventbus.NewMemoryStore(0), logger)
			if err != nil {
				return err
			}
			defer bus.Close()
			svc, err := core.NewService(cfg.ServiceSchema(), core.ServiceDeps{Bus: bus, Logger: logger})
			if err != nil {
				return err
			}
			layer, err := comms.New(cfg.CommsSchema(), svc, nil, bus, logger)
			if err != nil {
				return err
			}
			defer layer.Cleanup()

			first, err := svc.CreateTab(ctx, core.CreateTabRequest{URL: "about:blank"})
			if err != nil {
				return fmt.Errorf("doctor create tab: %w", err)
			}
			second, err := svc.CreateTab(ctx, core.CreateTabRequest{URL: "about:blank", Background: true})
			if err != nil {
				return fmt.Errorf("doctor create tab: %w", err)
			}
			logger.Info("doctor registry ok", "tabs", 2)

			if err := layer.GrantPermission(ctx, first.ID, second.ID, schema.CapabilityMessage); err != nil {
				return fmt.Errorf("doctor grant: %w", err)
			}
			if _, err := layer.SendMessage(ctx, first.ID, second.ID, "doctor", nil); err != nil {
				return fmt.Errorf("doctor message: %w", err)
			}
			logger.Info("doctor comms ok")

			info, err := layer.CreateSharedContext(ctx, first.ID, "doctor")
			if err != nil {
				return fmt.Errorf("doctor context: %w", err)
			}
			if err := layer.UpdateSharedData(ctx, first.ID, info.ID, "probe", time.Now().String()); err != nil {
				return fmt.Errorf("doctor shared data: %w", err)
			}
			logger.Info("doctor shared context ok", "context", info.ID)

			optimizer, err := core.NewOptimizer(cfg.OptimizerSchema(), svc, logger)
			if err != nil {
				return err
			}
			result := optimizer.OptimizeMemory(ctx)
			logger.Info("doctor optimizer ok", "strategy", result.Strategy, "usage", result.UsageBytes)

			if cfg.Snapshots.Encrypt {
				v, err := vault.New(cfg.Snapshots.KeyStorePath, logger)
				if err != nil {
					return fmt.Errorf("doctor vault: %w", err)
				}
				sealed, err := v.Seal([]byte("doctor"))
				if err != nil {
					return fmt.Errorf("doctor seal: %w", err)
				}
				plain, err := v.Open(sealed)
				if err != nil || string(plain) != "doctor" {
					return fmt.Errorf("doctor vault round trip failed: %w", err)
				}
				logger.Info("doctor vault ok", "key_store", cfg.Snapshots.KeyStorePath)
			}

			if err := svc.DestroyTab(ctx, first.ID); err != nil {
				return fmt.Errorf("doctor destroy: %w", err)
			}
			if err := svc.DestroyTab(ctx, second.ID); err != nil {
				return fmt.Errorf("doctor destroy: %w", err)
			}
			logger.Info("doctor complete")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
