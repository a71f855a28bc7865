package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/identity"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/network"
)

// runProbeCmd implements `hive-sync probe`.
//
// Exit codes:
//
//	0 = node reachable
//	1 = node unreachable
//	2 = usage or config error
func runProbeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("probe", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output as JSON")
	appID := cmd.String("app", getenvDefault("HIVE_APP_ID", ""), "rApp identifier to compare against this build")
	cfg, ok := loadConfig(cmd, args, stderr)
	if !ok {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Network.RequestTimeout())
	defer cancel()
	client := network.New(cfg.Network.EndpointURL, network.WithTimeout(cfg.Network.RequestTimeout()))

	result := map[string]any{"endpoint": cfg.Network.EndpointURL}
	start := time.Now()
	nodes, err := client.ClusterInfo(ctx)
	if err != nil {
		result["reachable"] = false
		result["error"] = err.Error()
		printProbe(stdout, result, *jsonOutput)
		return 1
	}
	result["reachable"] = true
	result["latency_ms"] = time.Since(start).Milliseconds()
	result["nodes"] = len(nodes)

	if ordinal, err := client.LatestOrdinal(ctx); err == nil {
		result["global_ordinal"] = ordinal
	}

	// Probing never creates an identity.
	if id, err := identity.Load(cfg.Network.IdentityPath); err == nil {
		result["address"] = id.Address
		if head, err := client.LatestSnapshot(ctx, id.Address); err == nil {
			result["channel_head"] = head.Hash.String()
			result["channel_ordinal"] = head.Ordinal
		}
	}

	if *appID != "" {
		if app, err := client.AppData(ctx, *appID); err == nil && app != nil {
			result["app_version"] = app.AppVersion
			if newer, err := app.NewerThan(version); err == nil {
				result["update_available"] = newer
			}
		}
	}

	printProbe(stdout, result, *jsonOutput)
	return 0
}

func printProbe(w io.Writer, result map[string]any, asJSON bool) {
	if asJSON {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(w, string(data))
		return
	}
	if result["reachable"] != true {
		_, _ = fmt.Fprintf(w, "Node %s unreachable: %v\n", result["endpoint"], result["error"])
		return
	}
	_, _ = fmt.Fprintf(w, "Node %s reachable: %v node(s), %vms\n", result["endpoint"], result["nodes"], result["latency_ms"])
	if v, ok := result["global_ordinal"]; ok {
		_, _ = fmt.Fprintf(w, "Global ordinal: %v\n", v)
	}
	if v, ok := result["channel_head"]; ok {
		_, _ = fmt.Fprintf(w, "Channel %v head: %v (ordinal %v)\n", result["address"], v, result["channel_ordinal"])
	}
	if v, ok := result["app_version"]; ok {
		_, _ = fmt.Fprintf(w, "Deployed app version: %v (update available: %v)\n", v, result["update_available"])
	}
}
