package validator

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
)

var nodeIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Validator runs the five-phase validation pass over an untyped pipeline
// tree, using catalog as the sole source of node-type semantics (spec.md
// §4.3: "validation uses only this interface").
type Validator struct {
	catalog *registry.Registry

	ruleCache map[string]*compiledRule
}

// NewValidator creates a validator bound to catalog.
func NewValidator(catalog *registry.Registry) *Validator {
	return &Validator{catalog: catalog, ruleCache: make(map[string]*compiledRule)}
}

// Validate runs all five phases and returns the accumulated report. Later
// phases still run even when earlier phases found errors, except where a
// later phase's precondition (e.g. a DAG, for phase 5) cannot be
// established without it — in that case the phase is skipped rather than
// panicking on malformed input.
func (v *Validator) Validate(p *dsl.Pipeline) *Report {
	report := &Report{}

	if !v.validateStructural(p, report) {
		return report
	}
	v.validateTypeResolution(p, report)
	v.validateParameters(p, report)
	order, acyclic := v.validateDependencies(p, report)
	if acyclic {
		v.validateIOCompatibility(p, order, report)
	}
	if len(p.Nodes) == 1 {
		report.addWarning(CodeBestPracticeViolation, p.Nodes[0].ID, "",
			"pipeline has only one node", p.Nodes[0].Span)
	}
	return report
}

// validateStructural is phase 1. It returns false when the tree is so
// malformed that later phases cannot safely run (empty pipeline).
func (v *Validator) validateStructural(p *dsl.Pipeline, report *Report) bool {
	if len(p.Nodes) == 0 {
		report.addError(CodeEmptyPipeline, "", "", "pipeline must declare at least one node", dsl.Span{})
		return false
	}
	seen := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if !nodeIDPattern.MatchString(n.ID) {
			report.addError(CodeInvalidNodeID, n.ID, "id",
				fmt.Sprintf("node id %q must match [letter][alnum_]*", n.ID), n.Span)
			continue
		}
		if seen[n.ID] {
			report.addError(CodeDuplicateNodeID, n.ID, "id",
				fmt.Sprintf("duplicate node id %q", n.ID), n.Span)
			continue
		}
		seen[n.ID] = true
	}
	return true
}

// validateTypeResolution is phase 2: every node's type must resolve in the
// catalog.
func (v *Validator) validateTypeResolution(p *dsl.Pipeline, report *Report) {
	for _, n := range p.Nodes {
		if !v.catalog.Has(n.Type) {
			report.addError(CodeUnknownNodeType, n.ID, "type",
				fmt.Sprintf("unknown node type %q (known types: %v)", n.Type, v.catalog.TypeNames()),
				n.Span)
		}
	}
}

// validateParameters is phase 3: field-level type/range/enum checks plus
// CEL-compiled cross-field rules.
func (v *Validator) validateParameters(p *dsl.Pipeline, report *Report) {
	for _, n := range p.Nodes {
		def, ok := v.catalog.Lookup(n.Type)
		if !ok {
			continue // already reported by phase 2
		}
		schema := def.ParamSchema()
		resolved := registry.ResolveParams(schema, n.Params)

		for _, field := range schema {
			v.validateField(n, field, resolved, report)
		}
		for _, rule := range def.CrossFieldRules() {
			v.validateCrossFieldRule(n, rule, resolved, report)
		}
	}
}

func (v *Validator) validateField(n dsl.NodeDecl, field registry.ParamSchema, resolved map[string]any, report *Report) {
	value, present := resolved[field.Name]
	if !present {
		if field.Required {
			report.addError(CodeMissingRequiredParam, n.ID, field.Name,
				fmt.Sprintf("missing required parameter %q", field.Name), n.Span)
		}
		return
	}
	switch field.Type {
	case registry.ParamInt, registry.ParamFloat:
		f, ok := asFloat(value)
		if !ok {
			report.addError(CodeParameterTypeMismatch, n.ID, field.Name,
				fmt.Sprintf("parameter %q must be numeric, got %T", field.Name, value), n.Span)
			return
		}
		if !field.InRange(f) {
			report.addError(CodeParameterOutOfRange, n.ID, field.Name,
				fmt.Sprintf("parameter %q value %v out of range", field.Name, value), n.Span)
		}
	case registry.ParamString:
		if _, ok := value.(string); !ok {
			report.addError(CodeParameterTypeMismatch, n.ID, field.Name,
				fmt.Sprintf("parameter %q must be a string, got %T", field.Name, value), n.Span)
		}
	case registry.ParamBool:
		if _, ok := value.(bool); !ok {
			report.addError(CodeParameterTypeMismatch, n.ID, field.Name,
				fmt.Sprintf("parameter %q must be a bool, got %T", field.Name, value), n.Span)
		}
	case registry.ParamEnum:
		s, ok := value.(string)
		if !ok || !field.InEnum(s) {
			report.addError(CodeParameterNotInEnum, n.ID, field.Name,
				fmt.Sprintf("parameter %q value %v is not one of %v", field.Name, value, field.Enum), n.Span)
		}
	case registry.ParamArray:
		if _, ok := value.([]any); !ok {
			report.addError(CodeParameterTypeMismatch, n.ID, field.Name,
				fmt.Sprintf("parameter %q must be an array, got %T", field.Name, value), n.Span)
		}
	case registry.ParamObject:
		// Object parameters are intentionally unconstrained here; a custom
		// node's own manifest-declared schema does not go deeper than
		// presence at this layer.
	}
}

func (v *Validator) validateCrossFieldRule(n dsl.NodeDecl, rule registry.CrossFieldRule, resolved map[string]any, report *Report) {
	compiled, ok := v.ruleCache[n.Type+"/"+rule.Name]
	if !ok {
		c, err := compileRule(rule.Expression)
		if err != nil {
			report.addError(CodeCrossFieldRuleViolation, n.ID, "",
				fmt.Sprintf("rule %q failed to compile: %v", rule.Name, err), n.Span)
			return
		}
		compiled = c
		v.ruleCache[n.Type+"/"+rule.Name] = compiled
	}
	ok2, err := compiled.eval(resolved)
	if err != nil {
		report.addError(CodeCrossFieldRuleViolation, n.ID, "",
			fmt.Sprintf("rule %q failed to evaluate: %v", rule.Name, err), n.Span)
		return
	}
	if !ok2 {
		report.addError(CodeCrossFieldRuleViolation, n.ID, "",
			fmt.Sprintf("%s: %s", rule.Name, rule.Message), n.Span)
	}
}

// validateDependencies is phase 4: every depends_on id must exist, and the
// dependency graph must be acyclic (DFS with an explicit recursion stack so
// a detected cycle's path can be reported). It returns a topological order
// (by Kahn's algorithm, source-order tie-break) for phase 5 to reuse, and
// whether the graph was acyclic.
func (v *Validator) validateDependencies(p *dsl.Pipeline, report *Report) ([]string, bool) {
	byID := make(map[string]dsl.NodeDecl, len(p.Nodes))
	order := make(map[string]int, len(p.Nodes))
	for i, n := range p.Nodes {
		byID[n.ID] = n
		order[n.ID] = i
	}

	acyclic := true
	for _, n := range p.Nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				report.addError(CodeMissingDependency, n.ID, "depends_on",
					fmt.Sprintf("node %q depends on unknown node %q", n.ID, dep), n.Span)
				acyclic = false
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Nodes))
	var stack []string
	var cycleFound bool

	var visit func(id string)
	visit = func(id string) {
		if cycleFound {
			return
		}
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range byID[id].DependsOn {
			if _, ok := byID[dep]; !ok {
				continue // already reported above
			}
			switch color[dep] {
			case white:
				visit(dep)
				if cycleFound {
					return
				}
			case gray:
				cycleFound = true
				cyclePath := extractCyclePath(stack, dep)
				report.addError(CodeCircularDependency, id, "depends_on",
					fmt.Sprintf("circular dependency: %v", cyclePath), byID[id].Span)
				return
			case black:
				// already fully explored, no cycle through here
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, n := range p.Nodes {
		if color[n.ID] == white {
			visit(n.ID)
			if cycleFound {
				acyclic = false
				break
			}
		}
	}
	if !acyclic {
		return nil, false
	}

	topo := kahnTopoSort(p, byID, order)
	return topo, true
}

// extractCyclePath returns the cycle starting at backEdgeTarget, reading
// forward to the end of stack and back to backEdgeTarget to close the loop.
func extractCyclePath(stack []string, backEdgeTarget string) []string {
	start := 0
	for i, id := range stack {
		if id == backEdgeTarget {
			start = i
			break
		}
	}
	path := append([]string(nil), stack[start:]...)
	return append(path, backEdgeTarget)
}

// kahnTopoSort computes a topological order with source-order tie-breaking
// (spec.md §4.4). Callers must have already established the graph is
// acyclic.
func kahnTopoSort(p *dsl.Pipeline, byID map[string]dsl.NodeDecl, sourceOrder map[string]int) []string {
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
	sort.Slice(ready, func(i, j int) bool { return sourceOrder[ready[i]] < sourceOrder[ready[j]] })

	var result []string
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
		sort.Slice(newlyReady, func(i, j int) bool { return sourceOrder[newlyReady[i]] < sourceOrder[newlyReady[j]] })
		ready = append(ready, newlyReady...)
		sort.Slice(ready, func(i, j int) bool { return sourceOrder[ready[i]] < sourceOrder[ready[j]] })
	}
	return result
}

// validateIOCompatibility is phase 5: walk the topological order, resolve
// each node's output schema, and check every downstream edge accepts it.
func (v *Validator) validateIOCompatibility(p *dsl.Pipeline, order []string, report *Report) {
	byID := make(map[string]dsl.NodeDecl, len(p.Nodes))
	for _, n := range p.Nodes {
		byID[n.ID] = n
	}
	schemas := make(map[string]registry.ArtifactSchema, len(p.Nodes))

	for _, id := range order {
		n := byID[id]
		def, ok := v.catalog.Lookup(n.Type)
		if !ok {
			continue
		}
		contract := def.InputContract()
		if !contract.Satisfies(len(n.DependsOn)) {
			report.addError(CodeInputArityMismatch, n.ID, "depends_on",
				fmt.Sprintf("node %q accepts between %d and %d inputs, got %d", n.ID, contract.MinInputs, contract.MaxInputs, len(n.DependsOn)),
				n.Span)
			continue
		}
		inputs := make([]registry.ArtifactSchema, 0, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			inputs = append(inputs, schemas[dep])
		}
		resolved := registry.ResolveParams(def.ParamSchema(), n.Params)
		schema, err := def.ResolveOutputSchema(resolved, inputs)
		if err != nil {
			report.addError(CodeIncompatibleInputType, n.ID, "depends_on", err.Error(), n.Span)
			continue
		}
		schemas[n.ID] = schema
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
