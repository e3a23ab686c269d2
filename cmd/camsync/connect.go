package main

import (
	"context"
	"fmt"

	"github.com/camai/camsync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(connectCmd)
}

var connectCmd = &cobra.Command{
	Use:   "connect <host> [port]",
	Short: "Probe a device and store it in ~/.camsync/config.toml",
	Long:  "Validate the host and port, check that the device answers, and save it as the default device.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		host, port := args[0], ""
		if len(args) == 2 {
			port = args[1]
		}

		cfg, err := readConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		resolver := camsync.NewResolver(camsync.Config{})
		resolver.Log = camsync.NewLogger(cfg.Log.Level, cfg.Log.Pretty)
		target, err := resolver.Resolve(context.Background(), host, port)
		switch {
		case camsync.IsResolution(err, camsync.Unreachable):
			return fmt.Errorf("device did not answer: %w", err)
		case err != nil:
			return err
		}

		cfg.Device.Host = target.Host
		cfg.Device.Port = target.Port
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		if store, err := openStore(); err == nil {
			_ = camsync.SaveTarget(store, target)
		}

		path, _ := configPath()
		fmt.Printf("Device %s saved to %s\n", target, path)
		return nil
	},
}
