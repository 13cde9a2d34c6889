package builtinrunner

import (
	"fmt"
	"math"
	"time"

	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/compiler"
	"github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"
	"github.com/adaptiveX-gh/EdgeQL-sub000/engine"
)

// joinSignalsAndPrices resolves a BacktestNode's one- or two-input form
// into a single timestamp-aligned series of (signal, OHLC) pairs.
func joinSignalsAndPrices(inputs []engine.Artifact) (timestamps []time.Time, signals []float64, closes []float64, err error) {
	if len(inputs) == 1 {
		df := inputs[0].Frame
		if df == nil {
			return nil, nil, nil, fmt.Errorf("BacktestNode input is not a dataframe")
		}
		return df.Timestamps, columnSeries(df, "signal"), columnSeries(df, "close"), nil
	}
	if len(inputs) != 2 || inputs[0].Frame == nil || inputs[1].Frame == nil {
		return nil, nil, nil, fmt.Errorf("BacktestNode requires one or two dataframe inputs")
	}
	var signalFrame, priceFrame *engine.Dataframe
	if inputs[0].Frame.HasColumn("signal") {
		signalFrame, priceFrame = inputs[0].Frame, inputs[1].Frame
	} else {
		signalFrame, priceFrame = inputs[1].Frame, inputs[0].Frame
	}
	ts, signalRows, priceRows := innerJoinByTimestamp(signalFrame, priceFrame)
	signals = make([]float64, len(ts))
	closes = make([]float64, len(ts))
	for i := range ts {
		signals[i] = signalRows[i]["signal"]
		closes[i] = priceRows[i]["close"]
	}
	return ts, signals, closes, nil
}

// runBacktest simulates a single-position strategy: signal 1 opens/holds a
// long, -1 opens/holds a short, 0 flattens. Commission and slippage are
// charged per position change (spec.md §4.6, §10 metric list).
func (r *Runner) runBacktest(node compiler.CompiledNode, inputs []engine.Artifact) (*engine.Artifact, error) {
	timestamps, signals, closes, err := joinSignalsAndPrices(inputs)
	if err != nil {
		return nil, err
	}
	initialCapital := paramFloat(node.Params, "initial_capital")
	commission := paramFloat(node.Params, "commission")
	slippage := paramFloat(node.Params, "slippage")
	positionSize := paramFloat(node.Params, "position_size")
	if positionSize <= 0 {
		positionSize = 1.0
	}

	cash := initialCapital
	position := 0.0 // signed quantity
	entryPrice := 0.0
	var entryTime time.Time
	var trades []engine.Trade
	equity := make([]float64, len(timestamps))

	closePosition := func(i int, exitPrice float64) {
		if position == 0 {
			return
		}
		grossPnL := position * (exitPrice - entryPrice)
		commissionCost := math.Abs(position) * exitPrice * commission
		cash += grossPnL - commissionCost
		trades = append(trades, engine.Trade{
			EntryTime: entryTime, ExitTime: timestamps[i], Direction: sign(position),
			EntryPrice: entryPrice, ExitPrice: exitPrice, Quantity: math.Abs(position),
			PnL: grossPnL - commissionCost, Commission: commissionCost,
		})
		position = 0
	}

	for i, sig := range signals {
		price := closes[i]
		slipped := price * (1 + slippage*sign(sig))
		wantLong := sig > 0
		wantShort := sig < 0
		wantFlat := sig == 0

		switch {
		case wantFlat && position != 0:
			closePosition(i, price*(1-slippage*float64(sign(position))))
		case wantLong && position <= 0:
			if position < 0 {
				closePosition(i, slipped)
			}
			qty := (cash * positionSize) / slipped
			position = qty
			entryPrice = slipped
			entryTime = timestamps[i]
			cash -= qty * slipped * commission
		case wantShort && position >= 0:
			if position > 0 {
				closePosition(i, slipped)
			}
			qty := (cash * positionSize) / slipped
			position = -qty
			entryPrice = slipped
			entryTime = timestamps[i]
			cash -= qty * slipped * commission
		}

		unrealized := 0.0
		if position != 0 {
			unrealized = position * (price - entryPrice)
		}
		equity[i] = cash + unrealized
	}
	if position != 0 && len(closes) > 0 {
		last := closes[len(closes)-1]
		closePosition(len(closes)-1, last*(1-slippage*float64(sign(position))))
		equity[len(equity)-1] = cash
	}

	metrics := computeMetrics(initialCapital, equity, trades)
	results := &engine.BacktestResults{
		Metrics: metrics, Trades: trades, EquityCurve: equity, EquityTimes: timestamps,
	}
	return &engine.Artifact{Kind: registry.ArtifactBacktestResults, Backtest: results}, nil
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func computeMetrics(initialCapital float64, equity []float64, trades []engine.Trade) map[string]float64 {
	finalCapital := initialCapital
	if len(equity) > 0 {
		finalCapital = equity[len(equity)-1]
	}
	totalReturn := 0.0
	if initialCapital != 0 {
		totalReturn = (finalCapital - initialCapital) / initialCapital
	}

	var returns []float64
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}
	sharpe := sharpeRatio(returns)
	maxDD := maxDrawdown(equity)

	wins, grossProfit, grossLoss, sumReturns := 0, 0.0, 0.0, 0.0
	for _, t := range trades {
		sumReturns += t.PnL
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else {
			grossLoss += -t.PnL
		}
	}
	winRate := 0.0
	avgTradeReturn := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades))
		avgTradeReturn = sumReturns / float64(len(trades))
	}
	profitFactor := math.Inf(1)
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
	}

	annualReturn := 0.0
	if len(equity) > 1 {
		periods := float64(len(equity))
		annualReturn = math.Pow(1+totalReturn, 252.0/periods) - 1
	}

	return map[string]float64{
		"total_return":      totalReturn,
		"annual_return":     annualReturn,
		"sharpe":             sharpe,
		"max_drawdown":       maxDD,
		"num_trades":         float64(len(trades)),
		"win_rate":           winRate,
		"profit_factor":      profitFactor,
		"avg_trade_return":   avgTradeReturn,
		"final_capital":      finalCapital,
	}
}

func sharpeRatio(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return (mean / stddev) * math.Sqrt(252)
}

func maxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak == 0 {
			continue
		}
		dd := (peak - v) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
