package engine

import (
	"sync"
	"time"

	"tradeloop/internal/decision"
)

// 执行模式。
type Mode string

const (
	ModeRunning Mode = "running" // 正常分析并执行
	ModePaused  Mode = "paused"  // 照常分析，不下单
	ModeStopped Mode = "stopped" // 循环空转
)

// 历史环形缓冲容量。
const (
	equityHistoryCap   = 200
	decisionHistoryCap = 100
	logHistoryCap      = 500
	tradeHistoryCap    = 50
)

// EquityPoint 一次权益采样。
type EquityPoint struct {
	At     time.Time `json:"at"`
	Equity float64   `json:"equity"`
}

// DecisionEvent 决策历史条目（决策 + 风控结论 + 执行结果）。
type DecisionEvent struct {
	CycleID string               `json:"cycle_id"`
	Verdict decision.RiskVerdict `json:"verdict"`
	Outcome string               `json:"outcome"`
	Detail  string               `json:"detail,omitempty"`
	At      time.Time            `json:"at"`
}

// TradeEvent 成交历史条目。
type TradeEvent struct {
	CycleID  string    `json:"cycle_id"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Action   string    `json:"action"` // open / close
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	PnL      float64   `json:"pnl"`
	At       time.Time `json:"at"`
}

// LogLine 面板日志条目。
type LogLine struct {
	At   time.Time `json:"at"`
	Line string    `json:"line"`
}

// StateSnapshot 对外发布的不可变状态快照。
type StateSnapshot struct {
	Mode          Mode                    `json:"mode"`
	CycleCount    int64                   `json:"cycle_count"`
	LastCycleID   string                  `json:"last_cycle_id"`
	LastCycleAt   time.Time               `json:"last_cycle_at"`
	Equity        float64                 `json:"equity"`
	RealizedPnL   float64                 `json:"realized_pnl"`
	Positions     []decision.PositionView `json:"positions"`
	EquityHistory []EquityPoint           `json:"equity_history"`
	Decisions     []DecisionEvent         `json:"decisions"`
	Trades        []TradeEvent            `json:"trades"`
	Logs          []LogLine               `json:"logs"`
}

// GlobalState 单写多读的运行状态。只有循环线程调用写方法，
// 面板等读方只通过 Snapshot 拿值拷贝。
type GlobalState struct {
	mu sync.RWMutex

	mode        Mode
	cycleCount  int64
	lastCycleID string
	lastCycleAt time.Time
	equity      float64
	realized    float64
	positions   []decision.PositionView

	equityHist []EquityPoint
	decisions  []DecisionEvent
	trades     []TradeEvent
	logs       []LogLine
}

func NewGlobalState() *GlobalState {
	return &GlobalState{mode: ModeRunning}
}

// Mode 当前执行模式。
func (s *GlobalState) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode 切换执行模式。
func (s *GlobalState) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// BeginCycle 登记一次新循环。
func (s *GlobalState) BeginCycle(cycleID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycleCount++
	s.lastCycleID = cycleID
	s.lastCycleAt = at
}

// RecordEquity 采样一次权益并维护环形窗口。
func (s *GlobalState) RecordEquity(equity, realized float64, positions []decision.PositionView, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = equity
	s.realized = realized
	s.positions = positions
	s.equityHist = append(s.equityHist, EquityPoint{At: at, Equity: equity})
	if len(s.equityHist) > equityHistoryCap {
		s.equityHist = s.equityHist[len(s.equityHist)-equityHistoryCap:]
	}
}

// RecordDecision 追加一条决策历史。
func (s *GlobalState) RecordDecision(ev DecisionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, ev)
	if len(s.decisions) > decisionHistoryCap {
		s.decisions = s.decisions[len(s.decisions)-decisionHistoryCap:]
	}
}

// RecordTrade 追加一条成交历史。
func (s *GlobalState) RecordTrade(ev TradeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, ev)
	if len(s.trades) > tradeHistoryCap {
		s.trades = s.trades[len(s.trades)-tradeHistoryCap:]
	}
}

// AppendLog 追加一行面板日志（线程安全，可做 logger sink）。
func (s *GlobalState) AppendLog(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, LogLine{At: time.Now(), Line: line})
	if len(s.logs) > logHistoryCap {
		s.logs = s.logs[len(s.logs)-logHistoryCap:]
	}
}

// Snapshot 发布一份不可变快照，所有切片深拷贝。
func (s *GlobalState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := StateSnapshot{
		Mode:        s.mode,
		CycleCount:  s.cycleCount,
		LastCycleID: s.lastCycleID,
		LastCycleAt: s.lastCycleAt,
		Equity:      s.equity,
		RealizedPnL: s.realized,
	}
	snap.Positions = append([]decision.PositionView(nil), s.positions...)
	snap.EquityHistory = append([]EquityPoint(nil), s.equityHist...)
	snap.Decisions = append([]DecisionEvent(nil), s.decisions...)
	snap.Trades = append([]TradeEvent(nil), s.trades...)
	snap.Logs = append([]LogLine(nil), s.logs...)
	return snap
}
