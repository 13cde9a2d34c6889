// Package compiler implements the compiler (C4, spec.md §4.4): given a
// validated pipeline tree, it computes a deterministic topological order
// and rewrites each declaration into a CompiledNode, producing a Pipeline
// IR ready for the executor.
package compiler

import (
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
)

// CompiledNode is one node's fully-resolved, execution-ready descriptor
// (spec.md §3 "Compiled node").
type CompiledNode struct {
	ID                string
	Type              string
	Params            map[string]any
	DependsOn         []string
	Runtime           registry.RuntimeKind
	ResolvedOutput    registry.ArtifactSchema
	EntryPoint        string
}

// IRMetadata carries the IR's provenance (spec.md §3 "Pipeline IR").
type IRMetadata struct {
	CompiledAt  string
	Version     string
	NodeCount   int
	ContentHash string
}

// IR is the compiled pipeline: an ordered sequence of compiled nodes
// matching a valid topological order, plus metadata.
type IR struct {
	Nodes    []CompiledNode
	Metadata IRMetadata
}

// NodeByID returns the compiled node with the given id, or false if absent.
func (ir *IR) NodeByID(id string) (CompiledNode, bool) {
	for _, n := range ir.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return CompiledNode{}, false
}

// FinalOutputs returns the ids of nodes with no downstream consumers in the
// IR (spec.md §4.8 "final outputs keyed by node id").
func (ir *IR) FinalOutputs() []string {
	hasConsumer := make(map[string]bool, len(ir.Nodes))
	for _, n := range ir.Nodes {
		for _, dep := range n.DependsOn {
			hasConsumer[dep] = true
		}
	}
	var out []string
	for _, n := range ir.Nodes {
		if !hasConsumer[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}
