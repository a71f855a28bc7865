package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/config"
)

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadConfig parses the shared --config flag and loads the file it names.
func loadConfig(cmd *flag.FlagSet, args []string, stderr io.Writer) (*config.Config, bool) {
	path := cmd.String("config", getenvDefault("HIVE_CONFIG", ""), "Path to YAML config")
	if err := cmd.Parse(args); err != nil {
		return nil, false
	}
	cfg, err := config.Load(*path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, false
	}
	return cfg, true
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o700)
}
