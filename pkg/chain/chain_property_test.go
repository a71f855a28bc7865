//go:build property
// +build property

package chain_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/chain"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/crypto"
)

// TestChainIntegrity: any sequence built by Seal verifies, and swapping any
// two distinct links breaks it.
func TestChainIntegrity(t *testing.T) {
	signer, err := crypto.NewSecp256k1Signer()
	if err != nil {
		t.Fatal(err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	build := func(contents []string) ([]*chain.Envelope, bool) {
		prev := chain.Genesis
		envs := make([]*chain.Envelope, 0, len(contents))
		for _, c := range contents {
			env, err := chain.Seal(signer, prev, []byte(c))
			if err != nil {
				return nil, false
			}
			envs = append(envs, env)
			prev = env.Hash()
		}
		return envs, true
	}

	properties.Property("sealed sequences verify", prop.ForAll(
		func(contents []string) bool {
			envs, ok := build(contents)
			return ok && chain.VerifySequence(chain.Genesis, envs) == nil
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("reordering breaks the chain", prop.ForAll(
		func(contents []string) bool {
			if len(contents) < 2 {
				return true
			}
			envs, ok := build(contents)
			if !ok {
				return false
			}
			envs[0], envs[1] = envs[1], envs[0]
			return chain.VerifySequence(chain.Genesis, envs) != nil
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
