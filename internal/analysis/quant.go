package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/markcheno/go-talib"

	"tradeloop/internal/market"
)

// QuantTask 量化评分任务（必选）。
// 三个周期各自打分后加权合成 [-100,100] 的方向分：
//   - 1h EMA12/26 趋势（权重 ±40）
//   - 15m MACD 柱动量（权重 ±30）
//   - 5m 最新K线即时变化（权重 ±30）
//
// RSI 超买超卖对总分做收敛修正，避免在极端区间追单。
type QuantTask struct {
	timeout time.Duration
}

func NewQuantTask(timeout time.Duration) *QuantTask {
	return &QuantTask{timeout: timeout}
}

func (q *QuantTask) Meta() TaskMeta {
	return TaskMeta{ID: "quant", Required: true, Timeout: q.timeout}
}

func (q *QuantTask) Analyze(_ context.Context, snap market.Snapshot, _ PriorContext) (Output, error) {
	c1h := snap.Candles("1h")
	c15m := snap.Candles("15m")
	c5m := snap.Candles("5m")
	if len(c1h) < 30 || len(c15m) < 40 || len(c5m) < 2 {
		return Output{}, fmt.Errorf("K线数据不足: 1h=%d 15m=%d 5m=%d", len(c1h), len(c15m), len(c5m))
	}

	trendScore := scoreTrend1h(closesOf(c1h))
	macdScore := scoreMACD15m(closesOf(c15m))
	liveScore := scoreLive5m(c5m)

	score := trendScore + macdScore + liveScore

	// RSI 修正：5m RSI 超过 75 削弱多头分，低于 25 削弱空头分。
	rsiSeries := talib.Rsi(closesOf(c5m), 14)
	rsi := lastOf(rsiSeries)
	switch {
	case rsi >= 75 && score > 0:
		score *= 0.6
	case rsi <= 25 && score < 0:
		score *= 0.6
	}

	// 布林带修正：价格顶穿上轨不追多，跌破下轨不追空。
	if closes5m := closesOf(c5m); len(closes5m) >= 21 {
		upper, _, lower := talib.BBands(closes5m, 20, 2, 2, talib.SMA)
		last := closes5m[len(closes5m)-1]
		switch {
		case last > lastOf(upper) && score > 0:
			score *= 0.7
		case last < lastOf(lower) && score < 0:
			score *= 0.7
		}
	}

	if score > 100 {
		score = 100
	} else if score < -100 {
		score = -100
	}

	stance := StanceNeutral
	switch {
	case score >= 20:
		stance = StanceLong
	case score <= -20:
		stance = StanceShort
	}

	conf := score
	if conf < 0 {
		conf = -conf
	}

	return Output{
		Stance:     stance,
		Confidence: conf / 100,
		Rationale: fmt.Sprintf("score=%.1f trend1h=%.1f macd15m=%.1f live5m=%.1f rsi5m=%.1f",
			score, trendScore, macdScore, liveScore, rsi),
		Metadata: map[string]any{
			"score":    score,
			"momentum": macdScore + liveScore, // 短周期动量，fast_trend 分支使用
			"rsi_5m":   rsi,
		},
	}, nil
}

// scoreTrend1h 1h EMA12/26 趋势分，范围 [-40,40]。
func scoreTrend1h(closes []float64) float64 {
	fast := lastOf(talib.Ema(closes, 12))
	slow := lastOf(talib.Ema(closes, 26))
	if fast <= 0 || slow <= 0 {
		return 0
	}
	diffPct := (fast - slow) / slow * 100
	switch {
	case diffPct > 0.5:
		return 40
	case diffPct > 0.1:
		return 20
	case diffPct < -0.5:
		return -40
	case diffPct < -0.1:
		return -20
	}
	return 0
}

// scoreMACD15m 15m MACD 柱方向与加速度，范围 [-30,30]。
func scoreMACD15m(closes []float64) float64 {
	_, _, hist := talib.Macd(closes, 12, 26, 9)
	if len(hist) < 2 {
		return 0
	}
	h0 := hist[len(hist)-1]
	h1 := hist[len(hist)-2]
	switch {
	case h0 > 0 && h0 > h1:
		return 30
	case h0 > 0:
		return 15
	case h0 < 0 && h0 < h1:
		return -30
	case h0 < 0:
		return -15
	}
	return 0
}

// scoreLive5m 最新 5m K线相对前收的即时变化，范围 [-30,30]。
func scoreLive5m(candles []market.Candle) float64 {
	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]
	if prev.Close <= 0 {
		return 0
	}
	changePct := (last.Close - prev.Close) / prev.Close * 100
	switch {
	case changePct > 0.3:
		return 30
	case changePct > 0.1:
		return 15
	case changePct < -0.3:
		return -30
	case changePct < -0.1:
		return -15
	}
	return 0
}

func closesOf(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func lastOf(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] != 0 {
			return series[i]
		}
	}
	return 0
}
