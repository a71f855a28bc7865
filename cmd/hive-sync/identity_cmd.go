package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/identity"
)

// runIdentityCmd implements `hive-sync identity`: creates the identity file
// if missing and prints the address other parties will see.
func runIdentityCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("identity", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output as JSON")
	cfg, ok := loadConfig(cmd, args, stderr)
	if !ok {
		return 2
	}

	path := cfg.Network.IdentityPath
	if err := ensureParent(path); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	id, err := identity.Ensure(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(map[string]string{
			"address":   id.Address,
			"peer_id":   id.PublicKeyID(),
			"file_path": path,
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "Address: %s\n", id.Address)
	_, _ = fmt.Fprintf(stdout, "Peer ID: %s\n", id.PublicKeyID())
	_, _ = fmt.Fprintf(stdout, "File:    %s\n", path)
	return 0
}
