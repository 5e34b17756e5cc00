package analysis

import (
	"context"
	"testing"

	"tradeloop/internal/market"
)

func snapshotWithCloses(symbol, interval string, n int) market.Snapshot {
	candles := make([]market.Candle, n)
	for i := range candles {
		candles[i] = market.Candle{OpenTime: int64(i), Close: 100}
	}
	return market.Snapshot{Symbol: symbol, Series: map[string][]market.Candle{interval: candles}}
}

func TestCollectPivots(t *testing.T) {
	// 在平坦序列中埋两个低点。
	values := make([]float64, 40)
	for i := range values {
		values[i] = 100
	}
	values[10] = 90
	values[25] = 85
	pivots := collectPivots(values, 5, false)
	if len(pivots) != 2 {
		t.Fatalf("应找到 2 个低点枢轴, got %v", pivots)
	}
	if pivots[0] != 25 || pivots[1] != 10 {
		t.Fatalf("枢轴应近端优先: %v", pivots)
	}
}

func TestIsPivotAtRejectsEdge(t *testing.T) {
	values := []float64{5, 4, 3, 4, 5, 6, 7}
	if !isPivotAt(values, 2, 2, false) {
		t.Fatalf("下标 2 应是低点枢轴")
	}
	if isPivotAt(values, 3, 2, false) {
		t.Fatalf("下标 3 不是低点枢轴")
	}
}

func TestRegularDivergence(t *testing.T) {
	closes := make([]float64, 40)
	series := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
		series[i] = 50
	}
	// 价格低点走低、指标低点走高 → 看多背离。
	closes[20], closes[32] = 95, 90
	series[20], series[32] = 30, 40
	pivots := []int{32, 20}
	if !regularDivergence(closes, series, pivots, false) {
		t.Fatalf("应检出看多背离")
	}
	// 指标同步走低则没有背离。
	series[32] = 20
	if regularDivergence(closes, series, pivots, false) {
		t.Fatalf("指标同向不应算背离")
	}
}

func TestRegularDivergenceIgnoresStalePivots(t *testing.T) {
	closes := make([]float64, 100)
	series := make([]float64, 100)
	for i := range closes {
		closes[i] = 100
		series[i] = 50
	}
	closes[10], closes[30] = 95, 90
	series[10], series[30] = 30, 40
	// 最近枢轴距今 69 根，超过窗口。
	if regularDivergence(closes, series, []int{30, 10}, false) {
		t.Fatalf("过期枢轴不应触发背离")
	}
}

func TestDivergenceTaskNeedsEnoughData(t *testing.T) {
	task := NewDivergenceTask(0)
	if task.Meta().ID != "divergence" || task.Meta().Required {
		t.Fatalf("divergence 应是可选任务")
	}
	_, err := task.Analyze(context.Background(), snapshotWithCloses("BTCUSDT", "15m", 5), PriorContext{})
	if err == nil {
		t.Fatalf("数据不足应报错")
	}
}
