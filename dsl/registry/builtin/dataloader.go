// Package builtin implements the catalog's fixed builtin node types
// (spec.md §4.2): DataLoaderNode, IndicatorNode, CrossoverSignalNode,
// BacktestNode, FeatureGeneratorNode and LabelingNode. Each type's
// ResolveOutputSchema mirrors the algorithm C7 runs at execution time, so
// the validator can check IO compatibility without running anything
// (spec.md §4.3 phase 5).
package builtin

import (
	"fmt"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
)

// ohlcvColumns is the column set the dataset provider guarantees after
// alias normalization (spec.md §6 dataset provider interface).
var ohlcvColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// DataLoaderType is the catalog entry for DataLoaderNode, the only builtin
// source node type (no dependencies).
type DataLoaderType struct{}

func (DataLoaderType) Name() string                { return "DataLoaderNode" }
func (DataLoaderType) Runtime() registry.RuntimeKind { return registry.RuntimeBuiltin }
func (DataLoaderType) EntryPoint() string           { return "" }

func (DataLoaderType) ParamSchema() []registry.ParamSchema {
	return []registry.ParamSchema{
		{Name: "symbol", Type: registry.ParamString, Required: true},
		{Name: "timeframe", Type: registry.ParamString, Required: true},
		{Name: "dataset", Type: registry.ParamString, Required: true},
		{Name: "start", Type: registry.ParamString},
		{Name: "end", Type: registry.ParamString},
	}
}

func (DataLoaderType) CrossFieldRules() []registry.CrossFieldRule {
	return []registry.CrossFieldRule{
		{
			Name:       "dataset_extension",
			Expression: `params.dataset.endsWith(".csv") || params.dataset.endsWith(".parquet") || params.dataset.endsWith(".json")`,
			Message:    "dataset must be a .csv, .parquet, or .json file",
		},
		{
			Name:       "start_before_end",
			Expression: `!has(params.start) || !has(params.end) || params.start < params.end`,
			Message:    "start must be before end",
		},
	}
}

func (DataLoaderType) InputContract() registry.InputContract {
	return registry.InputContract{MinInputs: 0, MaxInputs: 0}
}

func (DataLoaderType) ResolveOutputSchema(map[string]any, []registry.ArtifactSchema) (registry.ArtifactSchema, error) {
	return registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: ohlcvColumns}, nil
}

// IndicatorType is the catalog entry for IndicatorNode.
type IndicatorType struct{}

func (IndicatorType) Name() string                { return "IndicatorNode" }
func (IndicatorType) Runtime() registry.RuntimeKind { return registry.RuntimeBuiltin }
func (IndicatorType) EntryPoint() string           { return "" }

func (IndicatorType) ParamSchema() []registry.ParamSchema {
	return []registry.ParamSchema{
		{Name: "indicator", Type: registry.ParamEnum, Required: true,
			Enum: []string{"SMA", "EMA", "RSI", "MACD", "BB", "STOCH", "ATR"}},
		{Name: "period", Type: registry.ParamInt, Required: true, Min: f(1), Max: f(1000)},
		{Name: "column", Type: registry.ParamString, Default: "close"},
		{Name: "signal_period", Type: registry.ParamInt, Min: f(1), Max: f(1000)},
	}
}

func (IndicatorType) CrossFieldRules() []registry.CrossFieldRule {
	return []registry.CrossFieldRule{
		{
			Name:       "macd_requires_signal_period",
			Expression: `params.indicator != "MACD" || has(params.signal_period)`,
			Message:    "MACD requires signal_period",
		},
	}
}

func (IndicatorType) InputContract() registry.InputContract {
	return registry.InputContract{MinInputs: 1, MaxInputs: 1}
}

// indicatorRequiredColumns lists the extra OHLC columns each indicator kind
// reads beyond its chosen `column` (spec.md §4.3 phase 5: "indicator-
// specific extras like high,low for STOCH/ATR").
func indicatorRequiredColumns(indicator string) []string {
	switch indicator {
	case "STOCH", "ATR":
		return []string{"high", "low", "close"}
	default:
		return nil
	}
}

func (IndicatorType) ResolveOutputSchema(params map[string]any, inputs []registry.ArtifactSchema) (registry.ArtifactSchema, error) {
	if len(inputs) != 1 {
		return registry.ArtifactSchema{}, fmt.Errorf("IndicatorNode requires exactly one input, got %d", len(inputs))
	}
	indicator, _ := params["indicator"].(string)
	period, _ := toInt(params["period"])
	required := indicatorRequiredColumns(indicator)
	if missing := inputs[0].MissingColumns(required); len(missing) > 0 {
		return registry.ArtifactSchema{}, fmt.Errorf("indicator %s requires columns %v, input is missing %v", indicator, required, missing)
	}
	outputCol := fmt.Sprintf("%s_%d", lowerIndicatorName(indicator), period)
	columns := append(append([]string(nil), inputs[0].Columns...), outputCol)
	return registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: columns}, nil
}

func lowerIndicatorName(s string) string {
	switch s {
	case "SMA":
		return "sma"
	case "EMA":
		return "ema"
	case "RSI":
		return "rsi"
	case "MACD":
		return "macd"
	case "BB":
		return "bb"
	case "STOCH":
		return "stoch"
	case "ATR":
		return "atr"
	default:
		return s
	}
}

func f(v float64) *float64 { return &v }

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
