package builtinrunner

import (
	"fmt"
	"math"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
)

func (r *Runner) runFeatureGenerator(node compiler.CompiledNode, inputs []engine.Artifact) (*engine.Artifact, error) {
	if len(inputs) != 1 || inputs[0].Frame == nil {
		return nil, fmt.Errorf("FeatureGeneratorNode requires one dataframe input")
	}
	df := inputs[0].Frame
	column := paramString(node.Params, "column")
	if column == "" {
		column = "close"
	}
	series := columnSeries(df, column)
	windows := toFloatSlice(node.Params["windows"])
	features := toStringSlice(node.Params["features"])

	out := &engine.Dataframe{
		Columns:    append([]string(nil), df.Columns...),
		Timestamps: df.Timestamps,
		Metadata:   df.Metadata,
	}
	out.Rows = make([]engine.Row, len(df.Rows))
	for i, row := range df.Rows {
		newRow := make(engine.Row, len(row))
		for k, v := range row {
			newRow[k] = v
		}
		out.Rows[i] = newRow
	}

	for _, feat := range features {
		for _, w := range windows {
			period := int(w)
			colName := fmt.Sprintf("%s_%s_%d", column, feat, period)
			out.Columns = append(out.Columns, colName)
			values := computeFeature(feat, series, period)
			for i, v := range values {
				out.Rows[i][colName] = v
			}
		}
	}
	return &engine.Artifact{Kind: registry.ArtifactDataframe, Frame: out}, nil
}

func computeFeature(name string, series []float64, period int) []float64 {
	switch name {
	case "mean":
		return sma(series, period)
	case "stddev":
		_, stddev, _ := bollingerBandsStdDev(series, period)
		return stddev
	case "momentum":
		return momentum(series, period)
	case "zscore":
		return zscore(series, period)
	default:
		out := make([]float64, len(series))
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
}

func toFloatSlice(v any) []float64 {
	arr, _ := v.([]any)
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		out = append(out, toFloat(item))
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

func bollingerBandsStdDev(series []float64, period int) (mean, stddev, _ []float64) {
	mean = sma(series, period)
	stddev = make([]float64, len(series))
	for i := range series {
		if i < period-1 {
			stddev[i] = math.NaN()
			continue
		}
		var sumSq float64
		for j := i - period + 1; j <= i; j++ {
			d := series[j] - mean[i]
			sumSq += d * d
		}
		stddev[i] = math.Sqrt(sumSq / float64(period))
	}
	return mean, stddev, nil
}

func momentum(series []float64, period int) []float64 {
	out := make([]float64, len(series))
	for i := range series {
		if i < period {
			out[i] = math.NaN()
			continue
		}
		out[i] = series[i] - series[i-period]
	}
	return out
}

func zscore(series []float64, period int) []float64 {
	mean := sma(series, period)
	out := make([]float64, len(series))
	for i := range series {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		var sumSq float64
		for j := i - period + 1; j <= i; j++ {
			d := series[j] - mean[i]
			sumSq += d * d
		}
		stddev := math.Sqrt(sumSq / float64(period))
		if stddev == 0 {
			out[i] = 0
			continue
		}
		out[i] = (series[i] - mean[i]) / stddev
	}
	return out
}
