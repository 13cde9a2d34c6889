package builtin

import (
	"fmt"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
)

// FeatureGeneratorType is the catalog entry for FeatureGeneratorNode, a
// builtin that derives a batch of rolling-window statistical features from
// an OHLCV dataframe in one pass (resolves Open Question (i): feature
// generation and labeling are shipped as builtins, not custom-only, since
// they are pure numeric transforms with no need for sandboxing).
type FeatureGeneratorType struct{}

func (FeatureGeneratorType) Name() string                { return "FeatureGeneratorNode" }
func (FeatureGeneratorType) Runtime() registry.RuntimeKind { return registry.RuntimeBuiltin }
func (FeatureGeneratorType) EntryPoint() string           { return "" }

func (FeatureGeneratorType) ParamSchema() []registry.ParamSchema {
	return []registry.ParamSchema{
		{Name: "column", Type: registry.ParamString, Default: "close"},
		{Name: "windows", Type: registry.ParamArray, Default: []any{5.0, 10.0, 20.0}},
		{Name: "features", Type: registry.ParamArray, Required: true},
	}
}

func (FeatureGeneratorType) CrossFieldRules() []registry.CrossFieldRule {
	return []registry.CrossFieldRule{
		{
			Name:       "features_nonempty",
			Expression: `size(params.features) > 0`,
			Message:    "features must list at least one feature kind",
		},
	}
}

func (FeatureGeneratorType) InputContract() registry.InputContract {
	return registry.InputContract{MinInputs: 1, MaxInputs: 1}
}

func (FeatureGeneratorType) ResolveOutputSchema(params map[string]any, inputs []registry.ArtifactSchema) (registry.ArtifactSchema, error) {
	if len(inputs) != 1 {
		return registry.ArtifactSchema{}, fmt.Errorf("FeatureGeneratorNode requires exactly one input, got %d", len(inputs))
	}
	column, _ := params["column"].(string)
	if column == "" {
		column = "close"
	}
	if missing := inputs[0].MissingColumns([]string{"timestamp", column}); len(missing) > 0 {
		return registry.ArtifactSchema{}, fmt.Errorf("FeatureGeneratorNode is missing columns %v", missing)
	}
	windows := toFloatSlice(params["windows"])
	features := toStringSlice(params["features"])
	columns := append([]string(nil), inputs[0].Columns...)
	for _, feat := range features {
		for _, w := range windows {
			columns = append(columns, fmt.Sprintf("%s_%s_%d", column, feat, int(w)))
		}
	}
	return registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: columns}, nil
}

// LabelingType is the catalog entry for LabelingNode, which attaches a
// supervised-learning label column (e.g. forward return, triple barrier)
// to a feature dataframe.
type LabelingType struct{}

func (LabelingType) Name() string                { return "LabelingNode" }
func (LabelingType) Runtime() registry.RuntimeKind { return registry.RuntimeBuiltin }
func (LabelingType) EntryPoint() string           { return "" }

func (LabelingType) ParamSchema() []registry.ParamSchema {
	return []registry.ParamSchema{
		{Name: "method", Type: registry.ParamEnum, Required: true,
			Enum: []string{"forward_return", "triple_barrier"}},
		{Name: "horizon", Type: registry.ParamInt, Required: true, Min: f(1), Max: f(10000)},
		{Name: "upper_barrier", Type: registry.ParamFloat, Min: f(0)},
		{Name: "lower_barrier", Type: registry.ParamFloat, Min: f(0)},
	}
}

func (LabelingType) CrossFieldRules() []registry.CrossFieldRule {
	return []registry.CrossFieldRule{
		{
			Name:       "triple_barrier_requires_barriers",
			Expression: `params.method != "triple_barrier" || (has(params.upper_barrier) && has(params.lower_barrier))`,
			Message:    "triple_barrier requires upper_barrier and lower_barrier",
		},
	}
}

func (LabelingType) InputContract() registry.InputContract {
	return registry.InputContract{MinInputs: 1, MaxInputs: 1}
}

func (LabelingType) ResolveOutputSchema(params map[string]any, inputs []registry.ArtifactSchema) (registry.ArtifactSchema, error) {
	if len(inputs) != 1 {
		return registry.ArtifactSchema{}, fmt.Errorf("LabelingNode requires exactly one input, got %d", len(inputs))
	}
	if missing := inputs[0].MissingColumns([]string{"timestamp", "close"}); len(missing) > 0 {
		return registry.ArtifactSchema{}, fmt.Errorf("LabelingNode is missing columns %v", missing)
	}
	columns := append(append([]string(nil), inputs[0].Columns...), "label")
	return registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: columns}, nil
}

func toFloatSlice(v any) []float64 {
	arr, _ := v.([]any)
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		switch n := item.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		}
	}
	return out
}

func toStringSlice(v any) []string {
	arr, _ := v.([]any)
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
