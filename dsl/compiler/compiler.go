package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/validator"
)

// Version is stamped into every IR's metadata.
const Version = "1.0"

// Compiler turns a validated pipeline tree into an IR. It never partially
// emits: a pipeline that fails validation returns the report instead
// (spec.md §4.4).
type Compiler struct {
	catalog   *registry.Registry
	validator *validator.Validator
	now       func() time.Time
}

// New creates a Compiler backed by catalog, validating through its own
// Validator instance.
func New(catalog *registry.Registry) *Compiler {
	return &Compiler{catalog: catalog, validator: validator.NewValidator(catalog), now: time.Now}
}

// Compile validates p and, if clean, produces its IR. When validation
// fails, ir is nil and report.HasErrors() is true.
func (c *Compiler) Compile(p *dsl.Pipeline) (*IR, *validator.Report) {
	report := c.validator.Validate(p)
	if report.HasErrors() {
		return nil, report
	}

	byID := make(map[string]dsl.NodeDecl, len(p.Nodes))
	sourceOrder := make(map[string]int, len(p.Nodes))
	for i, n := range p.Nodes {
		byID[n.ID] = n
		sourceOrder[n.ID] = i
	}
	order := topoSort(p, sourceOrder)

	schemas := make(map[string]registry.ArtifactSchema, len(p.Nodes))
	nodes := make([]CompiledNode, 0, len(p.Nodes))
	for _, id := range order {
		decl := byID[id]
		def, _ := c.catalog.Lookup(decl.Type)
		resolved := registry.ResolveParams(def.ParamSchema(), decl.Params)

		inputs := make([]registry.ArtifactSchema, 0, len(decl.DependsOn))
		for _, dep := range decl.DependsOn {
			inputs = append(inputs, schemas[dep])
		}
		outputSchema, err := def.ResolveOutputSchema(resolved, inputs)
		if err != nil {
			// Validation already checked IO compatibility; reaching here
			// would mean validator and compiler disagree, which is a
			// programming error in one of the two, not a user error.
			panic(fmt.Sprintf("compiler: node %s passed validation but output schema resolution failed: %v", id, err))
		}
		schemas[id] = outputSchema

		nodes = append(nodes, CompiledNode{
			ID:             decl.ID,
			Type:           decl.Type,
			Params:         resolved,
			DependsOn:      decl.DependsOn,
			Runtime:        def.Runtime(),
			ResolvedOutput: outputSchema,
			EntryPoint:     def.EntryPoint(),
		})
	}

	ir := &IR{Nodes: nodes}
	ir.Metadata = IRMetadata{
		CompiledAt: c.now().UTC().Format(time.RFC3339),
		Version:    Version,
		NodeCount:  len(nodes),
	}
	ir.Metadata.ContentHash = contentHash(ir)
	return ir, report
}

// topoSort computes a topological order with source-order tie-breaking
// (spec.md §4.4). The caller guarantees the graph is acyclic (enforced by
// validation beforehand).
func topoSort(p *dsl.Pipeline, sourceOrder map[string]int) []string {
	inDegree := make(map[string]int, len(p.Nodes))
	dependents := make(map[string][]string, len(p.Nodes))
	for _, n := range p.Nodes {
		inDegree[n.ID] = len(n.DependsOn)
		for _, dep := range n.DependsOn {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	var ready []string
	for _, n := range p.Nodes {
		if inDegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	byOrder := func(ids []string) {
		sort.Slice(ids, func(i, j int) bool { return sourceOrder[ids[i]] < sourceOrder[ids[j]] })
	}
	byOrder(ready)

	result := make([]string, 0, len(p.Nodes))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		result = append(result, next)

		var newlyReady []string
		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		byOrder(newlyReady)
		ready = append(ready, newlyReady...)
		byOrder(ready)
	}
	return result
}

// contentHash computes a SHA-256 digest over the canonical JSON encoding
// of the IR's nodes and version (encoding/json sorts map keys, giving a
// stable serialization independent of map iteration order). The
// compiled-at timestamp, node count and the hash field itself are not
// hashed, so compiling the same source twice gives the same hash.
func contentHash(ir *IR) string {
	canonical := struct {
		Nodes   []CompiledNode `json:"nodes"`
		Version string         `json:"version"`
	}{Nodes: ir.Nodes, Version: ir.Metadata.Version}
	data, err := json.Marshal(canonical)
	if err != nil {
		panic(fmt.Sprintf("compiler: failed to canonicalize IR for hashing: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
