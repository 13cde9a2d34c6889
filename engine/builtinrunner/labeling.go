package builtinrunner

import (
	"fmt"
	"math"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
)

// runLabeling attaches a supervised-learning label column (spec.md §5).
// forward_return labels row i with the simple return to row i+horizon.
// triple_barrier labels the first of (upper_barrier hit, lower_barrier
// hit, horizon elapsed) to occur, encoded as 1 / -1 / 0 respectively.
func (r *Runner) runLabeling(node compiler.CompiledNode, inputs []engine.Artifact) (*engine.Artifact, error) {
	if len(inputs) != 1 || inputs[0].Frame == nil {
		return nil, fmt.Errorf("LabelingNode requires one dataframe input")
	}
	df := inputs[0].Frame
	method := paramString(node.Params, "method")
	horizon := paramInt(node.Params, "horizon")
	closes := columnSeries(df, "close")

	labels := make([]float64, len(closes))
	switch method {
	case "forward_return":
		for i := range closes {
			if i+horizon >= len(closes) {
				labels[i] = math.NaN()
				continue
			}
			labels[i] = (closes[i+horizon] - closes[i]) / closes[i]
		}
	case "triple_barrier":
		upper := paramFloat(node.Params, "upper_barrier")
		lower := paramFloat(node.Params, "lower_barrier")
		for i := range closes {
			labels[i] = tripleBarrierLabel(closes, i, horizon, upper, lower)
		}
	default:
		return nil, fmt.Errorf("unknown labeling method %q", method)
	}

	out := cloneWithColumn(df, "label", labels)
	return &engine.Artifact{Kind: registry.ArtifactDataframe, Frame: out}, nil
}

func tripleBarrierLabel(closes []float64, start, horizon int, upperPct, lowerPct float64) float64 {
	if start >= len(closes) {
		return math.NaN()
	}
	base := closes[start]
	end := start + horizon
	if end >= len(closes) {
		end = len(closes) - 1
	}
	for i := start + 1; i <= end; i++ {
		ret := (closes[i] - base) / base
		if ret >= upperPct {
			return 1
		}
		if ret <= -lowerPct {
			return -1
		}
	}
	if end <= start {
		return math.NaN()
	}
	return 0
}
