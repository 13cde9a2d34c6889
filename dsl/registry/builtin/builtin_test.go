package builtin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
)

func TestRegisterAll_NoDuplicates(t *testing.T) {
	r := registry.New()
	require.NotPanics(t, func() { RegisterAll(r) })

	for _, name := range []string{
		"DataLoaderNode", "IndicatorNode", "CrossoverSignalNode",
		"BacktestNode", "FeatureGeneratorNode", "LabelingNode",
	} {
		require.True(t, r.Has(name), "expected %s to be registered", name)
	}
}

func TestDataLoaderType_ResolveOutputSchema(t *testing.T) {
	var dl DataLoaderType
	schema, err := dl.ResolveOutputSchema(nil, nil)
	require.NoError(t, err)
	require.Equal(t, registry.ArtifactDataframe, schema.Kind)
	require.True(t, schema.HasColumn("close"))
	require.True(t, schema.HasColumn("volume"))
}

func TestIndicatorType_ATR_RequiresHighLow(t *testing.T) {
	var ind IndicatorType
	input := registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: []string{"timestamp", "close"}}
	_, err := ind.ResolveOutputSchema(map[string]any{"indicator": "ATR", "period": 14}, []registry.ArtifactSchema{input})
	require.Error(t, err)

	withHighLow := registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: []string{"timestamp", "high", "low", "close"}}
	out, err := ind.ResolveOutputSchema(map[string]any{"indicator": "ATR", "period": 14}, []registry.ArtifactSchema{withHighLow})
	require.NoError(t, err)
	require.True(t, out.HasColumn("atr_14"))
}

func TestIndicatorType_SMA_OutputColumnName(t *testing.T) {
	var ind IndicatorType
	input := registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: []string{"timestamp", "close"}}
	out, err := ind.ResolveOutputSchema(map[string]any{"indicator": "SMA", "period": 20}, []registry.ArtifactSchema{input})
	require.NoError(t, err)
	require.True(t, out.HasColumn("sma_20"))
	require.True(t, out.HasColumn("close"), "input columns must be preserved")
}

func TestCrossoverSignalType_ResolveOutputSchema(t *testing.T) {
	var cs CrossoverSignalType
	fast := registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: []string{"timestamp", "sma_10"}}
	slow := registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: []string{"timestamp", "sma_20"}}
	out, err := cs.ResolveOutputSchema(map[string]any{"fast_column": "sma_10", "slow_column": "sma_20"}, []registry.ArtifactSchema{fast, slow})
	require.NoError(t, err)
	require.Equal(t, registry.ArtifactSignals, out.Kind)
	require.True(t, out.HasColumn("signal"))
}

func TestBacktestType_SingleInput_RequiresSignalColumn(t *testing.T) {
	var bt BacktestType
	missing := registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: []string{"timestamp", "open", "high", "low", "close"}}
	_, err := bt.ResolveOutputSchema(nil, []registry.ArtifactSchema{missing})
	require.Error(t, err)

	withSignal := registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: []string{"timestamp", "open", "high", "low", "close", "signal"}}
	out, err := bt.ResolveOutputSchema(nil, []registry.ArtifactSchema{withSignal})
	require.NoError(t, err)
	require.Equal(t, registry.ArtifactBacktestResults, out.Kind)
}

func TestBacktestType_TwoInputs_ClassifiesBySignalColumn(t *testing.T) {
	var bt BacktestType
	signals := registry.ArtifactSchema{Kind: registry.ArtifactSignals, Columns: []string{"timestamp", "signal"}}
	prices := registry.ArtifactSchema{Kind: registry.ArtifactDataframe, Columns: []string{"timestamp", "open", "high", "low", "close"}}
	_, err := bt.ResolveOutputSchema(nil, []registry.ArtifactSchema{signals, prices})
	require.NoError(t, err)

	_, err = bt.ResolveOutputSchema(nil, []registry.ArtifactSchema{prices, prices})
	require.Error(t, err, "two inputs with no signal column must be rejected")
}
