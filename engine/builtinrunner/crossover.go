package builtinrunner

import (
	"fmt"
	"time"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
)

func (r *Runner) runCrossoverSignal(node compiler.CompiledNode, inputs []engine.Artifact) (*engine.Artifact, error) {
	if len(inputs) != 2 || inputs[0].Frame == nil || inputs[1].Frame == nil {
		return nil, fmt.Errorf("CrossoverSignalNode requires two dataframe inputs")
	}
	fast, slow := inputs[0].Frame, inputs[1].Frame
	fastCol := paramString(node.Params, "fast_column")
	slowCol := paramString(node.Params, "slow_column")
	upperThreshold := toFloat(node.Params["upper_threshold"])
	lowerThreshold := toFloat(node.Params["lower_threshold"])
	confirmation := paramInt(node.Params, "confirmation_periods")
	if confirmation < 1 {
		confirmation = 1
	}

	timestamps, leftRows, rightRows := innerJoinByTimestamp(fast, slow)
	signals := make([]float64, len(timestamps))
	streak := 0
	lastRaw := 0.0
	for i := range timestamps {
		fastVal := leftRows[i][fastCol]
		slowVal := rightRows[i][slowCol]
		diff := fastVal - slowVal
		raw := 0.0
		switch {
		case diff > upperThreshold:
			raw = 1
		case diff < -lowerThreshold:
			raw = -1
		}
		if raw == lastRaw {
			streak++
		} else {
			streak = 1
			lastRaw = raw
		}
		if streak >= confirmation {
			signals[i] = raw
		} else if i > 0 {
			signals[i] = signals[i-1]
		}
	}

	out := &engine.Dataframe{Columns: []string{"timestamp", "signal"}, Timestamps: timestamps}
	out.Rows = make([]engine.Row, len(signals))
	for i, s := range signals {
		out.Rows[i] = engine.Row{"signal": s}
	}
	return &engine.Artifact{Kind: registry.ArtifactSignals, Frame: out}, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// innerJoinByTimestamp aligns two dataframes on their timestamp column,
// keeping only rows present in both (spec.md §4.6 "align two dataframes on
// timestamp (inner join)").
func innerJoinByTimestamp(a, b *engine.Dataframe) (timestamps []time.Time, left, right []engine.Row) {
	index := make(map[int64]int, len(b.Rows))
	for i, ts := range b.Timestamps {
		index[ts.Unix()] = i
	}
	for i, ts := range a.Timestamps {
		if j, ok := index[ts.Unix()]; ok {
			timestamps = append(timestamps, ts)
			left = append(left, a.Rows[i])
			right = append(right, b.Rows[j])
		}
	}
	return timestamps, left, right
}
