package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/config"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/merkle"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/snapshot"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/store"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/store/journal"
)

// runVerifyCmd implements `hive-sync verify`.
//
// Re-checks every journaled envelope: payload layout, signature, address and
// the link to its predecessor. With --order it also proves that the order is
// included in the newest journaled snapshot that fingerprints it.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		journalPath string
		orderID     int64
		jsonOutput  bool
	)
	cmd.StringVar(&journalPath, "journal", "", "Path to journal database (default from config)")
	cmd.Int64Var(&orderID, "order", 0, "Order id to prove against the journaled snapshots")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cfg, ok := loadConfig(cmd, args, stderr)
	if !ok {
		return 2
	}
	if journalPath == "" {
		journalPath = cfg.Network.JournalPath
	}
	if _, err := os.Stat(journalPath); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	jr, err := journal.Open(ctx, journalPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = jr.Close() }()

	report, verr := jr.Verify(ctx)
	head, herr := jr.Head(ctx)
	if herr != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", herr)
		return 2
	}

	result := map[string]any{
		"journal":  journalPath,
		"verified": verr == nil,
		"entries":  report.Entries,
		"segments": report.Segments,
		"head":     head.String(),
	}
	if verr != nil {
		result["error"] = verr.Error()
	}

	var inclusion *orderInclusion
	if verr == nil && orderID != 0 {
		inclusion, err = proveOrder(ctx, cfg, jr, orderID)
		switch {
		case err == nil:
			result["order"] = inclusion
		case errors.Is(err, store.ErrNotFound), errors.Is(err, snapshot.ErrNotIncluded):
			verr = err
			result["verified"] = false
			result["error"] = err.Error()
		default:
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if verr == nil {
		_, _ = fmt.Fprintf(stdout, "✅ Journal verification PASSED\n")
		_, _ = fmt.Fprintf(stdout, "Entries: %d\nSegments: %d\nHead: %s\n", report.Entries, report.Segments, head)
		if inclusion != nil {
			_, _ = fmt.Fprintf(stdout, "Order %d included in snapshot %s (root %s, %d proof step(s))\n",
				inclusion.OrderID, inclusion.Snapshot, inclusion.Root, len(inclusion.Path))
		}
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Journal verification FAILED\n")
		_, _ = fmt.Fprintf(stdout, "  - %v\n", verr)
	}

	if verr != nil {
		return 1
	}
	return 0
}

type orderInclusion struct {
	OrderID  int64    `json:"order_id"`
	Snapshot string   `json:"snapshot"`
	Root     string   `json:"root"`
	Path     []string `json:"path"`
}

// proveOrder looks the order up in the business store and proves its
// fingerprint against the newest journaled snapshot that carries it.
func proveOrder(ctx context.Context, cfg *config.Config, jr *journal.Journal, id int64) (*orderInclusion, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()

	order, err := st.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := jr.List(ctx)
	if err != nil {
		return nil, err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		env := entries[i].Envelope
		snap, err := snapshot.Decode(env.Content)
		if err != nil {
			return nil, fmt.Errorf("journal entry %d: %w", entries[i].Seq, err)
		}
		proof, err := snapshot.ProveOrder(snap, order.Ref())
		if errors.Is(err, snapshot.ErrNotIncluded) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("journal entry %d: %w", entries[i].Seq, err)
		}
		if !merkle.VerifyInclusionProof(*proof, snap.FingerprintRoot) {
			return nil, fmt.Errorf("journal entry %d: inclusion proof does not verify", entries[i].Seq)
		}

		out := &orderInclusion{
			OrderID:  id,
			Snapshot: env.Hash().String(),
			Root:     hex.EncodeToString(proof.Root[:]),
		}
		for _, step := range proof.Path {
			side := "R"
			if step.Left {
				side = "L"
			}
			out.Path = append(out.Path, side+":"+hex.EncodeToString(step.Sibling[:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: order %d in %d journaled snapshot(s)", snapshot.ErrNotIncluded, id, len(entries))
}
