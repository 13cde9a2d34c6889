// Package dsl parses the textual pipeline source (spec.md §4.1) into an
// untyped structural tree. It intentionally knows nothing about node
// catalogs, parameter schemas, or execution order — those belong to the
// catalog, validator, and compiler packages respectively.
package dsl

import "strconv"

// Pipeline is the untyped structural tree produced by Parse. A Pipeline
// that parsed successfully still requires semantic validation (catalog
// lookups, parameter schemas, cycle detection) before it can be compiled.
type Pipeline struct {
	// Nodes is the ordered sequence of node declarations exactly as they
	// appeared in the source text. Source order is preserved because the
	// compiler uses it to break topological-sort ties deterministically
	// (spec.md §4.4).
	Nodes []NodeDecl

	// Metadata carries the mapping declared under the top-level "metadata"
	// key (e.g. a pipeline name or description). Any other top-level key
	// besides "nodes" is ignored without error, and the validator does not
	// report it either (spec.md §4.1).
	Metadata map[string]any
}

// NodeDecl is a single, unvalidated node declaration.
type NodeDecl struct {
	// ID is the node's instance identifier, unique within the pipeline.
	ID string

	// Type is the node type name looked up in the catalog (e.g.
	// "DataLoaderNode", "IndicatorNode").
	Type string

	// DependsOn lists the IDs of upstream nodes this node consumes
	// artifacts from, in the declared order (which also fixes input-port
	// order for multi-input nodes such as CrossoverSignalNode).
	DependsOn []string

	// Params holds the node's raw parameter values (scalars, arrays,
	// objects) prior to schema validation and default application.
	Params map[string]any

	// Span locates this declaration in the source text for error
	// reporting.
	Span Span
}

// Span locates a point or range in the original pipeline source text.
type Span struct {
	Line   int
	Column int
}

// SyntaxError describes one malformed declaration. The parser emits one
// SyntaxError per malformation and recovers to the next declaration
// boundary rather than aborting the whole parse (spec.md §4.1).
type SyntaxError struct {
	Span    Span
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Span.Line > 0 {
		return e.Span.String() + ": " + e.Message
	}
	return e.Message
}

// String renders a Span as "line:column", or "" when unknown.
func (s Span) String() string {
	if s.Line <= 0 {
		return ""
	}
	if s.Column <= 0 {
		return strconv.Itoa(s.Line)
	}
	return strconv.Itoa(s.Line) + ":" + strconv.Itoa(s.Column)
}
