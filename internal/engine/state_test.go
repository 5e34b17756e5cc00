package engine

import (
	"fmt"
	"testing"
	"time"

	"tradeloop/internal/decision"
)

func TestStateRingsAreCapped(t *testing.T) {
	s := NewGlobalState()
	now := time.Now()

	for i := 0; i < equityHistoryCap+50; i++ {
		s.RecordEquity(float64(i), 0, nil, now)
	}
	for i := 0; i < decisionHistoryCap+20; i++ {
		s.RecordDecision(DecisionEvent{CycleID: fmt.Sprintf("c-%d", i), At: now})
	}
	for i := 0; i < logHistoryCap+100; i++ {
		s.AppendLog(fmt.Sprintf("line %d", i))
	}
	for i := 0; i < tradeHistoryCap+10; i++ {
		s.RecordTrade(TradeEvent{Symbol: "BTCUSDT", At: now})
	}

	snap := s.Snapshot()
	if len(snap.EquityHistory) != equityHistoryCap {
		t.Fatalf("权益环应为 %d, got %d", equityHistoryCap, len(snap.EquityHistory))
	}
	if len(snap.Decisions) != decisionHistoryCap {
		t.Fatalf("决策环应为 %d, got %d", decisionHistoryCap, len(snap.Decisions))
	}
	if len(snap.Logs) != logHistoryCap {
		t.Fatalf("日志环应为 %d, got %d", logHistoryCap, len(snap.Logs))
	}
	if len(snap.Trades) != tradeHistoryCap {
		t.Fatalf("成交环应为 %d, got %d", tradeHistoryCap, len(snap.Trades))
	}
	// 丢弃的是最老的条目。
	if snap.EquityHistory[0].Equity != 50 {
		t.Fatalf("应保留最新窗口, got %.0f", snap.EquityHistory[0].Equity)
	}
}

func TestStateSnapshotIsDetached(t *testing.T) {
	s := NewGlobalState()
	s.RecordEquity(100, 0, []decision.PositionView{{Symbol: "BTCUSDT"}}, time.Now())
	snap := s.Snapshot()

	// 快照拿到后继续写：已发布的快照不受影响。
	s.RecordEquity(200, 0, []decision.PositionView{{Symbol: "BTCUSDT"}}, time.Now())
	s.AppendLog("后写入的日志")

	if len(snap.EquityHistory) != 1 || snap.Equity != 100 {
		t.Fatalf("快照应与后续写隔离: %+v", snap)
	}
	if len(snap.Logs) != 0 {
		t.Fatalf("快照不应看到后写入的日志")
	}

	// 修改快照切片也不影响内部状态。
	snap.Positions[0].Symbol = "HACKED"
	if s.Snapshot().Positions[0].Symbol != "BTCUSDT" {
		t.Fatalf("内部状态被快照修改污染")
	}
}

func TestStateModeTransitions(t *testing.T) {
	s := NewGlobalState()
	if s.Mode() != ModeRunning {
		t.Fatalf("初始模式应为 running")
	}
	s.SetMode(ModePaused)
	if s.Mode() != ModePaused {
		t.Fatalf("模式切换失败")
	}
}
