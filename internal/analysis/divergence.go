package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/markcheno/go-talib"

	"tradeloop/internal/market"
)

const (
	divPivotPeriod = 5
	divMaxPivots   = 10
	divMaxBarsAgo  = 30
)

// DivergenceTask 背离任务（可选）。
// 在 15m 周期上找价格与 MACD 柱 / RSI / MFI 的常规背离：
// 价格创新低而指标抬高视为看多背离，反之看空。
// 至少两个指标同时背离才表态，置信度随命中指标数上升。
type DivergenceTask struct {
	timeout time.Duration
}

func NewDivergenceTask(timeout time.Duration) *DivergenceTask {
	return &DivergenceTask{timeout: timeout}
}

func (d *DivergenceTask) Meta() TaskMeta {
	return TaskMeta{ID: "divergence", Required: false, Timeout: d.timeout}
}

func (d *DivergenceTask) Analyze(_ context.Context, snap market.Snapshot, _ PriorContext) (Output, error) {
	candles := snap.Candles("15m")
	if len(candles) < divPivotPeriod*2+20 {
		return Output{}, fmt.Errorf("15m K线不足 %d 根", divPivotPeriod*2+20)
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	_, _, macdHist := talib.Macd(closes, 12, 26, 9)
	indicators := []struct {
		name   string
		series []float64
	}{
		{"macd_hist", macdHist},
		{"rsi", talib.Rsi(closes, 14)},
		{"mfi", talib.Mfi(highs, lows, closes, volumes, 14)},
	}

	pivotLows := collectPivots(closes, divPivotPeriod, false)
	pivotHighs := collectPivots(closes, divPivotPeriod, true)

	bullish, bearish := 0, 0
	hits := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		if len(ind.series) != len(closes) {
			continue
		}
		if regularDivergence(closes, ind.series, pivotLows, false) {
			bullish++
			hits = append(hits, ind.name+"/bull")
		}
		if regularDivergence(closes, ind.series, pivotHighs, true) {
			bearish++
			hits = append(hits, ind.name+"/bear")
		}
	}

	stance := StanceNeutral
	count := 0
	switch {
	case bullish >= 2 && bullish > bearish:
		stance = StanceLong
		count = bullish
	case bearish >= 2 && bearish > bullish:
		stance = StanceShort
		count = bearish
	}

	conf := 0.0
	if count > 0 {
		conf = 0.4 + 0.15*float64(count-1)
		if conf > 0.8 {
			conf = 0.8
		}
	}

	return Output{
		Stance:     stance,
		Confidence: conf,
		Rationale:  fmt.Sprintf("bull=%d bear=%d hits=%v", bullish, bearish, hits),
		Metadata: map[string]any{
			"bullish": bullish,
			"bearish": bearish,
		},
	}, nil
}

// collectPivots 返回近端优先的枢轴下标，最多 divMaxPivots 个。
// 枢轴要求左右各 period 根内它是严格极值，平顶平底不算。
func collectPivots(values []float64, period int, isHigh bool) []int {
	out := make([]int, 0, divMaxPivots)
	for i := len(values) - period - 1; i >= period; i-- {
		if !isPivotAt(values, i, period, isHigh) {
			continue
		}
		out = append(out, i)
		if len(out) >= divMaxPivots {
			break
		}
	}
	return out
}

func isPivotAt(values []float64, idx, period int, isHigh bool) bool {
	v := values[idx]
	for i := idx - period; i <= idx+period; i++ {
		if i == idx {
			continue
		}
		if isHigh && values[i] >= v {
			return false
		}
		if !isHigh && values[i] <= v {
			return false
		}
	}
	return true
}

// regularDivergence 检查最近两个枢轴之间价格与指标走向是否相反。
// isHigh=false：价格低点走低而指标低点走高（看多背离）；
// isHigh=true：价格高点走高而指标高点走低（看空背离）。
func regularDivergence(closes, series []float64, pivots []int, isHigh bool) bool {
	if len(pivots) < 2 {
		return false
	}
	recent, prev := pivots[0], pivots[1]
	// 太久远的枢轴不再有参考意义。
	if len(closes)-1-recent > divMaxBarsAgo {
		return false
	}
	priceDelta := closes[recent] - closes[prev]
	indDelta := series[recent] - series[prev]
	if isHigh {
		return priceDelta > 0 && indDelta < 0
	}
	return priceDelta < 0 && indDelta > 0
}
