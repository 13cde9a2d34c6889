package builtinrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
)

// Runner executes every builtin (in-process) node type (spec.md §4.6).
// Builtins never block on I/O beyond the dataset provider, so Cancel is
// always a no-op. Builtin work completes inline with Execute and does not
// watch ctx while it runs; ctx is checked once the work returns, and a
// cancelled ctx then turns the result into StatusCancelled.
type Runner struct {
	Datasets DatasetProvider
}

// NewRunner creates a builtin runner backed by datasets.
func NewRunner(datasets DatasetProvider) *Runner {
	return &Runner{Datasets: datasets}
}

// CanHandle implements engine.Runner.
func (r *Runner) CanHandle(runtime registry.RuntimeKind) bool {
	return runtime == registry.RuntimeBuiltin
}

// Cancel implements engine.Runner. Builtin execution is synchronous within
// Execute, so there is nothing in flight to cancel out-of-band.
func (r *Runner) Cancel(string) bool { return false }

// Execute implements engine.Runner, dispatching by node type.
func (r *Runner) Execute(ctx context.Context, node compiler.CompiledNode, inputs []engine.Artifact) engine.NodeResult {
	start := time.Now()
	var artifact *engine.Artifact
	var err error

	switch node.Type {
	case "DataLoaderNode":
		artifact, err = r.runDataLoader(node)
	case "IndicatorNode":
		artifact, err = r.runIndicator(node, inputs)
	case "CrossoverSignalNode":
		artifact, err = r.runCrossoverSignal(node, inputs)
	case "BacktestNode":
		artifact, err = r.runBacktest(node, inputs)
	case "FeatureGeneratorNode":
		artifact, err = r.runFeatureGenerator(node, inputs)
	case "LabelingNode":
		artifact, err = r.runLabeling(node, inputs)
	default:
		err = fmt.Errorf("builtin runner: unknown node type %q", node.Type)
	}

	if ctx.Err() != nil {
		return engine.NodeResult{
			NodeID: node.ID, Status: engine.StatusCancelled, ExecutionTime: time.Since(start),
			Err: &engine.NodeError{Category: engine.ErrCategoryCancelled, Message: ctx.Err().Error(), NodeID: node.ID},
		}
	}
	if err != nil {
		return engine.NodeResult{
			NodeID: node.ID, Status: engine.StatusFailed, ExecutionTime: time.Since(start),
			Err: &engine.NodeError{Category: engine.ErrCategoryRuntime, Message: err.Error(), NodeID: node.ID},
		}
	}
	return engine.NodeResult{NodeID: node.ID, Status: engine.StatusSuccess, ExecutionTime: time.Since(start), Artifact: artifact}
}

func paramString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func paramFloat(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func paramInt(params map[string]any, key string) int {
	return int(paramFloat(params, key))
}

func (r *Runner) runDataLoader(node compiler.CompiledNode) (*engine.Artifact, error) {
	path, err := r.Datasets.Resolve(paramString(node.Params, "dataset"))
	if err != nil {
		return nil, err
	}
	df, err := loadDataframe(path)
	if err != nil {
		return nil, err
	}
	if start := paramString(node.Params, "start"); start != "" {
		if t, err := parseTimestamp(start); err == nil {
			df = filterByTime(df, t, true)
		}
	}
	if end := paramString(node.Params, "end"); end != "" {
		if t, err := parseTimestamp(end); err == nil {
			df = filterByTime(df, t, false)
		}
	}
	return &engine.Artifact{Kind: registry.ArtifactDataframe, Frame: df}, nil
}

func filterByTime(df *engine.Dataframe, cutoff time.Time, keepAfter bool) *engine.Dataframe {
	out := &engine.Dataframe{Columns: df.Columns, Metadata: df.Metadata}
	for i, ts := range df.Timestamps {
		if keepAfter && ts.Before(cutoff) {
			continue
		}
		if !keepAfter && ts.After(cutoff) {
			continue
		}
		out.Timestamps = append(out.Timestamps, ts)
		out.Rows = append(out.Rows, df.Rows[i])
	}
	return out
}

func columnSeries(df *engine.Dataframe, column string) []float64 {
	out := make([]float64, len(df.Rows))
	for i, row := range df.Rows {
		out[i] = row[column]
	}
	return out
}

func (r *Runner) runIndicator(node compiler.CompiledNode, inputs []engine.Artifact) (*engine.Artifact, error) {
	if len(inputs) != 1 || inputs[0].Frame == nil {
		return nil, fmt.Errorf("IndicatorNode requires one dataframe input")
	}
	df := inputs[0].Frame
	indicator := paramString(node.Params, "indicator")
	period := paramInt(node.Params, "period")
	column := paramString(node.Params, "column")
	if column == "" {
		column = "close"
	}
	series := columnSeries(df, column)

	outCol := node.ResolvedOutput.Columns[len(node.ResolvedOutput.Columns)-1]
	var values []float64
	switch indicator {
	case "SMA":
		values = sma(series, period)
	case "EMA":
		values = ema(series, period)
	case "RSI":
		values = rsi(series, period)
	case "MACD":
		signalPeriod := paramInt(node.Params, "signal_period")
		values, _ = macd(series, period, period*2, signalPeriod)
	case "BB":
		values, _, _ = bollingerBands(series, period, 2.0)
	case "STOCH":
		values = stochastic(columnSeries(df, "high"), columnSeries(df, "low"), columnSeries(df, "close"), period)
	case "ATR":
		values = averageTrueRange(columnSeries(df, "high"), columnSeries(df, "low"), columnSeries(df, "close"), period)
	default:
		return nil, fmt.Errorf("unknown indicator %q", indicator)
	}

	out := cloneWithColumn(df, outCol, values)
	return &engine.Artifact{Kind: registry.ArtifactDataframe, Frame: out}, nil
}

func cloneWithColumn(df *engine.Dataframe, column string, values []float64) *engine.Dataframe {
	out := &engine.Dataframe{
		Columns:    append(append([]string(nil), df.Columns...), column),
		Timestamps: df.Timestamps,
		Metadata:   df.Metadata,
	}
	out.Rows = make([]engine.Row, len(df.Rows))
	for i, row := range df.Rows {
		newRow := make(engine.Row, len(row)+1)
		for k, v := range row {
			newRow[k] = v
		}
		if i < len(values) {
			newRow[column] = values[i]
		}
		out.Rows[i] = newRow
	}
	return out
}
