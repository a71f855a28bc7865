// Package merkle builds a Merkle tree over order fingerprints so a single
// order's inclusion in a snapshot can be proven without the full list.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"fmt"
)

const (
	leafTag = "hive:fingerprint:leaf:v1"
	nodeTag = "hive:fingerprint:node:v1"
)

// Hash is a SHA-256 digest.
type Hash = [32]byte

type Tree struct {
	Leaves []Hash
	Root   Hash
	Nodes  [][]Hash // levels of node hashes, leaves first
}

// Build constructs a tree over fingerprints in the given order.
// An empty input yields the zero root.
func Build(fingerprints []Hash) *Tree {
	if len(fingerprints) == 0 {
		return &Tree{}
	}

	leaves := make([]Hash, len(fingerprints))
	for i, fp := range fingerprints {
		leaves[i] = leafHash(fp)
	}

	tree := &Tree{Leaves: leaves}
	current := leaves
	for len(current) > 1 {
		tree.Nodes = append(tree.Nodes, current)
		current = buildNextLevel(current)
	}
	tree.Root = current[0]
	tree.Nodes = append(tree.Nodes, current)

	return tree
}

// Root is a shortcut for Build(fingerprints).Root.
func Root(fingerprints []Hash) Hash {
	return Build(fingerprints).Root
}

type ProofStep struct {
	Left    bool // sibling sits on the left
	Sibling Hash
}

type InclusionProof struct {
	Fingerprint Hash
	Root        Hash
	Path        []ProofStep
}

// Prove returns the inclusion proof for the fingerprint at index.
func (t *Tree) Prove(index int, fingerprint Hash) (*InclusionProof, error) {
	if index < 0 || index >= len(t.Leaves) {
		return nil, fmt.Errorf("merkle: leaf %d out of range", index)
	}
	if leafHash(fingerprint) != t.Leaves[index] {
		return nil, fmt.Errorf("merkle: fingerprint does not match leaf %d", index)
	}

	proof := &InclusionProof{Fingerprint: fingerprint, Root: t.Root}
	pos := index
	for _, level := range t.Nodes[:len(t.Nodes)-1] {
		siblingPos := pos ^ 1
		if siblingPos >= len(level) {
			siblingPos = pos // odd level: last node paired with itself
		}
		proof.Path = append(proof.Path, ProofStep{
			Left:    siblingPos < pos,
			Sibling: level[siblingPos],
		})
		pos /= 2
	}
	return proof, nil
}

// VerifyInclusionProof checks that the proof leads to expectedRoot.
func VerifyInclusionProof(proof InclusionProof, expectedRoot Hash) bool {
	if proof.Root != expectedRoot {
		return false
	}
	current := leafHash(proof.Fingerprint)
	for _, step := range proof.Path {
		if step.Left {
			current = nodeHash(step.Sibling, current)
		} else {
			current = nodeHash(current, step.Sibling)
		}
	}
	return current == expectedRoot
}

func buildNextLevel(hashes []Hash) []Hash {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(hashes[:count:count], hashes[count-1]) // Duplicate last
		count++
	}

	next := make([]Hash, count/2)
	for i := 0; i < count; i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func leafHash(fp Hash) Hash {
	var buf bytes.Buffer
	buf.WriteString(leafTag)
	buf.WriteByte(0)
	buf.Write(fp[:])
	return sha256.Sum256(buf.Bytes())
}

func nodeHash(left, right Hash) Hash {
	var buf bytes.Buffer
	buf.WriteString(nodeTag)
	buf.WriteByte(0)
	buf.Write(left[:])
	buf.Write(right[:])
	return sha256.Sum256(buf.Bytes())
}
