package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/camai/camsync"
	"github.com/rs/zerolog"
)

// requestTimeout bounds one-shot commands.
const requestTimeout = 15 * time.Second

// env bundles what every command needs.
type env struct {
	cfg    *Config
	log    zerolog.Logger
	target camsync.ConnectionTarget
}

// loadEnv loads the config and resolves the stored device without probing it.
func loadEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := camsync.NewLogger(cfg.Log.Level, cfg.Log.Pretty)
	if cfg.Device.Host == "" {
		return nil, fmt.Errorf("no device configured; run 'camsync connect <host>' first")
	}
	port := ""
	if cfg.Device.Port != 0 {
		port = strconv.Itoa(cfg.Device.Port)
	}
	target, err := camsync.NewResolver(camsync.Config{}).Parse(cfg.Device.Host, port)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, target: target}, nil
}

// getClient creates a REST client for the configured device.
func getClient() (*camsync.Client, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, err
	}
	return camsync.NewClient(e.target, camsync.WithClientLogger(e.log)), nil
}

// openStore opens the persisted session state.
func openStore() (*camsync.TOMLStore, error) {
	path, err := statePath()
	if err != nil {
		return nil, err
	}
	return camsync.OpenTOMLStore(path)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// maskToken shows the first 6 and last 4 characters of a token.
func maskToken(tok string) string {
	if len(tok) <= 12 {
		return "****"
	}
	return tok[:6] + "..." + tok[len(tok)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
