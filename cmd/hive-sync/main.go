package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runSyncCmd(nil, stdout, stderr)
	}

	switch args[1] {
	case "run":
		return runSyncCmd(args[2:], stdout, stderr)
	case "identity":
		return runIdentityCmd(args[2:], stdout, stderr)
	case "probe":
		return runProbeCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runSyncCmd(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: hive-sync <command> [arguments]")
	_, _ = fmt.Fprintln(w, "\nCommands:")
	_, _ = fmt.Fprintln(w, "  run       Publish state channel snapshots (default)")
	_, _ = fmt.Fprintln(w, "  identity  Create or show the node identity")
	_, _ = fmt.Fprintln(w, "  probe     Query the L0 node for cluster and channel status")
	_, _ = fmt.Fprintln(w, "  verify    Re-verify the local journal of accepted snapshots")
	_, _ = fmt.Fprintln(w, "\nAll commands accept --config (default $HIVE_CONFIG).")
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
