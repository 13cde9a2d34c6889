package builtinrunner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
)

func writeSampleCSV(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sample_ohlcv.csv")
	var sb []byte
	sb = append(sb, "timestamp,open,high,low,close,volume\n"...)
	base := int64(1700000000)
	price := 100.0
	for i := 0; i < 40; i++ {
		price += float64(i%5) - 2
		o, h, l, c, v := price, price+1, price-1, price+0.5, 1000.0
		sb = append(sb, []byte(fmt.Sprintf("%d,%.4f,%.4f,%.4f,%.4f,%.4f\n", base+int64(i*3600), o, h, l, c, v))...)
	}
	require.NoError(t, os.WriteFile(path, sb, 0o644))
	return "sample_ohlcv.csv"
}

func TestDataLoaderAndIndicatorAndCrossoverAndBacktest(t *testing.T) {
	dir := t.TempDir()
	dataset := writeSampleCSV(t, dir)
	runner := NewRunner(&FilesystemDatasetProvider{Root: dir})
	ctx := context.Background()

	loaderNode := compiler.CompiledNode{ID: "data_loader", Type: "DataLoaderNode", Params: map[string]any{
		"dataset": dataset,
	}}
	loaderResult := runner.Execute(ctx, loaderNode, nil)
	require.Equal(t, engine.StatusSuccess, loaderResult.Status)
	require.NotNil(t, loaderResult.Artifact)
	require.True(t, loaderResult.Artifact.Frame.HasColumn("close"))

	fastNode := compiler.CompiledNode{
		ID: "fast_ma", Type: "IndicatorNode",
		Params:         map[string]any{"indicator": "SMA", "period": 10, "column": "close"},
		ResolvedOutput: registry.ArtifactSchema{Columns: append(append([]string{}, loaderResult.Artifact.Frame.Columns...), "sma_10")},
	}
	fastResult := runner.Execute(ctx, fastNode, []engine.Artifact{*loaderResult.Artifact})
	require.Equal(t, engine.StatusSuccess, fastResult.Status)
	require.True(t, fastResult.Artifact.Frame.HasColumn("sma_10"))

	slowNode := compiler.CompiledNode{
		ID: "slow_ma", Type: "IndicatorNode",
		Params:         map[string]any{"indicator": "SMA", "period": 20, "column": "close"},
		ResolvedOutput: registry.ArtifactSchema{Columns: append(append([]string{}, loaderResult.Artifact.Frame.Columns...), "sma_20")},
	}
	slowResult := runner.Execute(ctx, slowNode, []engine.Artifact{*loaderResult.Artifact})
	require.Equal(t, engine.StatusSuccess, slowResult.Status)

	signalNode := compiler.CompiledNode{
		ID: "signals", Type: "CrossoverSignalNode",
		Params: map[string]any{"fast_column": "sma_10", "slow_column": "sma_20", "confirmation_periods": 1},
	}
	signalResult := runner.Execute(ctx, signalNode, []engine.Artifact{*fastResult.Artifact, *slowResult.Artifact})
	require.Equal(t, engine.StatusSuccess, signalResult.Status)
	require.Equal(t, registry.ArtifactSignals, signalResult.Artifact.Kind)

	backtestNode := compiler.CompiledNode{
		ID: "backtest", Type: "BacktestNode",
		Params: map[string]any{"initial_capital": 10000.0, "commission": 0.001, "position_size": 1.0},
	}
	backtestResult := runner.Execute(ctx, backtestNode, []engine.Artifact{*signalResult.Artifact, *loaderResult.Artifact})
	require.Equal(t, engine.StatusSuccess, backtestResult.Status)
	require.NotNil(t, backtestResult.Artifact.Backtest)
	require.GreaterOrEqual(t, backtestResult.Artifact.Backtest.Metrics["num_trades"], 0.0)
	require.Greater(t, backtestResult.Artifact.Backtest.Metrics["final_capital"], 0.0)
}

func TestRunner_UnknownNodeType(t *testing.T) {
	runner := NewRunner(&FilesystemDatasetProvider{Root: t.TempDir()})
	result := runner.Execute(context.Background(), compiler.CompiledNode{ID: "x", Type: "Bogus"}, nil)
	require.Equal(t, engine.StatusFailed, result.Status)
	require.NotNil(t, result.Err)
}
