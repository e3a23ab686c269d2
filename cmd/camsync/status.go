package main

import (
	"context"
	"fmt"

	"github.com/camai/camsync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and device status",
	Long:  "Display the configured device and push token, then fetch a live summary from the device.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Device:      %s\n", valueOrDefault(cfg.Device.Host, "(not set)"))
		if cfg.Device.Port != 0 {
			fmt.Printf("  Port:        %d\n", cfg.Device.Port)
		}
		fmt.Printf("  MQTT:        %s\n", valueOrDefault(cfg.MQTT.Broker, "(disabled)"))
		fmt.Printf("  Metrics:     %s\n", valueOrDefault(cfg.Metrics.Addr, "(disabled)"))

		if store, err := openStore(); err == nil {
			tok := "(none)"
			if t, ok := store.Get(camsync.KeyPushToken); ok && t != "" {
				tok = maskToken(t)
			}
			fmt.Printf("  Push token:  %s\n", tok)
		}

		if cfg.Device.Host == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")
		client, err := getClient()
		if err != nil {
			fmt.Printf("  Error: %v\n", err)
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		sum, err := client.Summary(ctx)
		if err != nil {
			fmt.Printf("  Error fetching summary: %v\n", err)
			return nil
		}
		fmt.Printf("  FPS:          %.1f\n", sum.FPS)
		fmt.Printf("  Uptime:       %s\n", sum.Uptime)
		fmt.Printf("  Events today: %d\n", sum.EventsToday)
		fmt.Printf("  Tracked:      %d\n", sum.Tracked)

		if ptz, err := client.PTZStatus(ctx); err == nil {
			fmt.Printf("  PTZ:          connected=%t auto_tracking=%t\n", ptz.Connected, ptz.AutoTracking)
		}
		return nil
	},
}
