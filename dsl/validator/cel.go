package validator

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"
)

// ruleEnv is the CEL environment cross-field rules are compiled against: a
// single dynamically-typed `params` variable bound to a node's resolved
// parameter map (spec.md §4.3 phase 3, e.g. "fast_period < slow_period").
var ruleEnv *celgo.Env

func init() {
	env, err := celgo.NewEnv(celgo.Variable("params", celgo.DynType))
	if err != nil {
		panic(fmt.Sprintf("validator: failed to create CEL environment: %v", err))
	}
	ruleEnv = env
}

// compiledRule is a parsed and checked CEL program ready for repeated
// evaluation against different parameter maps.
type compiledRule struct {
	program celgo.Program
}

// compileRule parses and type-checks a cross-field rule expression.
func compileRule(expr string) (*compiledRule, error) {
	ast, issues := ruleEnv.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel parse error: %w", issues.Err())
	}
	checked, issues := ruleEnv.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel type-check error: %w", issues.Err())
	}
	prg, err := ruleEnv.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("cel program build error: %w", err)
	}
	return &compiledRule{program: prg}, nil
}

// eval runs the rule against params, expecting a bool result.
func (c *compiledRule) eval(params map[string]any) (bool, error) {
	out, _, err := c.program.Eval(map[string]any{"params": params})
	if err != nil {
		return false, fmt.Errorf("cel eval error: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel rule did not evaluate to bool (got %T)", out.Value())
	}
	return b, nil
}
