package builtin

import (
	"fmt"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
)

// CrossoverSignalType is the catalog entry for CrossoverSignalNode: it
// aligns a "fast" and a "slow" indicator dataframe on timestamp and emits
// a signal column (spec.md §4.2, §4.6 builtin algorithms).
type CrossoverSignalType struct{}

func (CrossoverSignalType) Name() string                { return "CrossoverSignalNode" }
func (CrossoverSignalType) Runtime() registry.RuntimeKind { return registry.RuntimeBuiltin }
func (CrossoverSignalType) EntryPoint() string           { return "" }

func (CrossoverSignalType) ParamSchema() []registry.ParamSchema {
	return []registry.ParamSchema{
		{Name: "fast_column", Type: registry.ParamString, Required: true},
		{Name: "slow_column", Type: registry.ParamString, Required: true},
		{Name: "upper_threshold", Type: registry.ParamFloat, Default: 0.0},
		{Name: "lower_threshold", Type: registry.ParamFloat, Default: 0.0},
		{Name: "confirmation_periods", Type: registry.ParamInt, Default: 1, Min: f(1), Max: f(100)},
	}
}

func (CrossoverSignalType) CrossFieldRules() []registry.CrossFieldRule {
	return []registry.CrossFieldRule{
		{
			Name:       "fast_slow_columns_distinct",
			Expression: `params.fast_column != params.slow_column`,
			Message:    "fast_column and slow_column must differ",
		},
	}
}

func (CrossoverSignalType) InputContract() registry.InputContract {
	return registry.InputContract{MinInputs: 2, MaxInputs: 2, PortNames: []string{"fast", "slow"}}
}

func (CrossoverSignalType) ResolveOutputSchema(params map[string]any, inputs []registry.ArtifactSchema) (registry.ArtifactSchema, error) {
	if len(inputs) != 2 {
		return registry.ArtifactSchema{}, fmt.Errorf("CrossoverSignalNode requires exactly two inputs (fast, slow), got %d", len(inputs))
	}
	fastCol, _ := params["fast_column"].(string)
	slowCol, _ := params["slow_column"].(string)
	if missing := inputs[0].MissingColumns([]string{"timestamp", fastCol}); len(missing) > 0 {
		return registry.ArtifactSchema{}, fmt.Errorf("fast input is missing columns %v", missing)
	}
	if missing := inputs[1].MissingColumns([]string{"timestamp", slowCol}); len(missing) > 0 {
		return registry.ArtifactSchema{}, fmt.Errorf("slow input is missing columns %v", missing)
	}
	return registry.ArtifactSchema{
		Kind:    registry.ArtifactSignals,
		Columns: []string{"timestamp", "signal"},
	}, nil
}

// BacktestType is the catalog entry for BacktestNode, the pipeline's
// terminal node. It accepts either a single signal-bearing OHLC dataframe
// or two inputs (signals + prices) per spec.md §4.3 phase 5.
type BacktestType struct{}

func (BacktestType) Name() string                { return "BacktestNode" }
func (BacktestType) Runtime() registry.RuntimeKind { return registry.RuntimeBuiltin }
func (BacktestType) EntryPoint() string           { return "" }

func (BacktestType) ParamSchema() []registry.ParamSchema {
	return []registry.ParamSchema{
		{Name: "initial_capital", Type: registry.ParamFloat, Required: true, Min: f(0)},
		{Name: "commission", Type: registry.ParamFloat, Default: 0.0, Min: f(0), Max: f(0.1)},
		{Name: "slippage", Type: registry.ParamFloat, Default: 0.0, Min: f(0), Max: f(0.1)},
		{Name: "position_size", Type: registry.ParamFloat, Default: 1.0, Min: f(0), Max: f(1)},
	}
}

func (BacktestType) CrossFieldRules() []registry.CrossFieldRule {
	return []registry.CrossFieldRule{
		{
			Name:       "position_size_positive",
			Expression: `params.position_size > 0.0`,
			Message:    "position_size must be in (0, 1]",
		},
	}
}

func (BacktestType) InputContract() registry.InputContract {
	// One input: a dataframe already carrying a `signal` column. Two
	// inputs: one supplies signals, the other OHLC prices (order is not
	// fixed; the validator's IO-compatibility phase matches by schema,
	// not position).
	return registry.InputContract{MinInputs: 1, MaxInputs: 2}
}

func (BacktestType) ResolveOutputSchema(_ map[string]any, inputs []registry.ArtifactSchema) (registry.ArtifactSchema, error) {
	switch len(inputs) {
	case 1:
		required := []string{"timestamp", "open", "high", "low", "close", "signal"}
		if missing := inputs[0].MissingColumns(required); len(missing) > 0 {
			return registry.ArtifactSchema{}, fmt.Errorf("single-input backtest requires columns %v, missing %v", required, missing)
		}
	case 2:
		signals, prices, err := splitSignalsAndPrices(inputs)
		if err != nil {
			return registry.ArtifactSchema{}, err
		}
		if missing := signals.MissingColumns([]string{"timestamp", "signal"}); len(missing) > 0 {
			return registry.ArtifactSchema{}, fmt.Errorf("signals input is missing columns %v", missing)
		}
		if missing := prices.MissingColumns([]string{"timestamp", "open", "high", "low", "close"}); len(missing) > 0 {
			return registry.ArtifactSchema{}, fmt.Errorf("price input is missing columns %v", missing)
		}
	default:
		return registry.ArtifactSchema{}, fmt.Errorf("BacktestNode accepts one or two inputs, got %d", len(inputs))
	}
	return registry.ArtifactSchema{Kind: registry.ArtifactBacktestResults}, nil
}

// splitSignalsAndPrices classifies a two-input BacktestNode's upstreams by
// whichever carries a `signal` column.
func splitSignalsAndPrices(inputs []registry.ArtifactSchema) (signals, prices registry.ArtifactSchema, err error) {
	if inputs[0].HasColumn("signal") && !inputs[1].HasColumn("signal") {
		return inputs[0], inputs[1], nil
	}
	if inputs[1].HasColumn("signal") && !inputs[0].HasColumn("signal") {
		return inputs[1], inputs[0], nil
	}
	return registry.ArtifactSchema{}, registry.ArtifactSchema{}, fmt.Errorf("two-input backtest requires exactly one input carrying a signal column")
}
