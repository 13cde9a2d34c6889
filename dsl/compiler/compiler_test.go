package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry/builtin"
)

func newCatalog(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	builtin.RegisterAll(r)
	return r
}

func crossoverPipeline() *dsl.Pipeline {
	return &dsl.Pipeline{Nodes: []dsl.NodeDecl{
		{ID: "backtest", Type: "BacktestNode", DependsOn: []string{"signals", "data_loader"}, Params: map[string]any{
			"initial_capital": 10000.0, "commission": 0.001,
		}},
		{ID: "data_loader", Type: "DataLoaderNode", Params: map[string]any{
			"symbol": "BTCUSD", "timeframe": "1h", "dataset": "sample_ohlcv.csv",
		}},
		{ID: "signals", Type: "CrossoverSignalNode", DependsOn: []string{"fast_ma", "slow_ma"}, Params: map[string]any{
			"fast_column": "sma_10", "slow_column": "sma_20",
		}},
		{ID: "fast_ma", Type: "IndicatorNode", DependsOn: []string{"data_loader"}, Params: map[string]any{
			"indicator": "SMA", "period": 10, "column": "close",
		}},
		{ID: "slow_ma", Type: "IndicatorNode", DependsOn: []string{"data_loader"}, Params: map[string]any{
			"indicator": "SMA", "period": 20, "column": "close",
		}},
	}}
}

func TestCompile_MovingAverageCrossover_TopoOrder(t *testing.T) {
	c := New(newCatalog(t))
	c.now = func() time.Time { return time.Unix(0, 0) }
	ir, report := c.Compile(crossoverPipeline())
	require.False(t, report.HasErrors())
	require.NotNil(t, ir)

	ids := make([]string, len(ir.Nodes))
	for i, n := range ir.Nodes {
		ids[i] = n.ID
	}
	require.Equal(t, []string{"data_loader", "fast_ma", "slow_ma", "signals", "backtest"}, ids)
	require.Equal(t, []string{"backtest"}, ir.FinalOutputs())
	require.NotEmpty(t, ir.Metadata.ContentHash)
	require.Equal(t, 5, ir.Metadata.NodeCount)
}

func TestCompile_InvalidPipeline_ReturnsReportNoIR(t *testing.T) {
	c := New(newCatalog(t))
	ir, report := c.Compile(&dsl.Pipeline{})
	require.Nil(t, ir)
	require.True(t, report.HasErrors())
}

func TestCompile_Deterministic_SameInputSameHash(t *testing.T) {
	c := New(newCatalog(t))
	c.now = func() time.Time { return time.Unix(0, 0) }
	ir1, _ := c.Compile(crossoverPipeline())
	ir2, _ := c.Compile(crossoverPipeline())
	require.Equal(t, ir1.Metadata.ContentHash, ir2.Metadata.ContentHash)
}
