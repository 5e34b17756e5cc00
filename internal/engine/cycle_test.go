package engine

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"tradeloop/internal/analysis"
	"tradeloop/internal/decision"
	"tradeloop/internal/gateway/database"
	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/market"
	"tradeloop/internal/risk"
	"tradeloop/internal/universe"
)

// fakeProvider 固定现价的快照源。
type fakeProvider struct {
	prices map[string]float64
	err    error
}

func (f *fakeProvider) Fetch(_ context.Context, symbol string, at time.Time) (market.Snapshot, error) {
	if f.err != nil {
		return market.Snapshot{}, f.err
	}
	return market.Snapshot{
		Symbol:    symbol,
		LivePrice: f.prices[symbol],
		Timestamp: at,
	}, nil
}

// scriptedTask 按标的返回预设输出的必选任务。
type scriptedTask struct {
	outputs map[string]analysis.Output
}

func (s *scriptedTask) Meta() analysis.TaskMeta {
	return analysis.TaskMeta{ID: "quant", Required: true}
}

func (s *scriptedTask) Analyze(_ context.Context, snap market.Snapshot, _ analysis.PriorContext) (analysis.Output, error) {
	out, ok := s.outputs[snap.Symbol]
	if !ok {
		return analysis.Output{}, errors.New("无脚本输出")
	}
	return out, nil
}

func bullish(score, conf float64) analysis.Output {
	return analysis.Output{
		Stance:     analysis.StanceLong,
		Confidence: conf,
		Metadata:   map[string]any{"score": score, "momentum": 10.0},
	}
}

func newTestOrchestrator(t *testing.T, task analysis.Task, provider market.SnapshotProvider, symbols []string) (*Orchestrator, *exchange.PaperTrader, *GlobalState, *Ledger) {
	t.Helper()
	trader := exchange.NewPaperTrader(10000)
	ledger := NewLedger()
	state := NewGlobalState()
	executor := NewExecutor(trader, ledger, state, nil)
	o := NewOrchestrator(
		OrchestratorConfig{CycleTimeout: 10 * time.Second, SymbolTimeout: 5 * time.Second},
		universe.NewSelector(nil, symbols, time.Hour),
		provider,
		analysis.NewPool(task),
		decision.NewRouter(decision.RouterConfig{}, nil),
		risk.NewGate(risk.GateConfig{}),
		executor,
		ledger,
		state,
		trader,
		nil,
	)
	return o, trader, state, ledger
}

func TestCycleAdmitsSingleOpen(t *testing.T) {
	symbols := []string{"AAAUSDT", "BBBUSDT"}
	task := &scriptedTask{outputs: map[string]analysis.Output{
		"AAAUSDT": bullish(60, 0.6),
		"BBBUSDT": bullish(70, 0.7),
	}}
	provider := &fakeProvider{prices: map[string]float64{"AAAUSDT": 10, "BBBUSDT": 20}}
	o, _, state, ledger := newTestOrchestrator(t, task, provider, symbols)

	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("循环失败: %v", err)
	}

	positions := ledger.Positions()
	if len(positions) != 1 || positions[0].Symbol != "BBBUSDT" {
		t.Fatalf("应只开置信度更高的 BBBUSDT: %+v", positions)
	}

	snap := state.Snapshot()
	if snap.CycleCount != 1 {
		t.Fatalf("循环计数应为 1")
	}
	outcomes := map[string]string{}
	for _, ev := range snap.Decisions {
		outcomes[ev.Verdict.Decision.Symbol] = ev.Outcome
	}
	if outcomes["BBBUSDT"] != OutcomeExecuted {
		t.Fatalf("BBBUSDT 应执行成功: %v", outcomes)
	}
	if outcomes["AAAUSDT"] != OutcomeDiscarded {
		t.Fatalf("AAAUSDT 应被废弃: %v", outcomes)
	}
	if len(snap.EquityHistory) != 1 {
		t.Fatalf("循环结束应采样一次权益")
	}
}

func TestCycleDegradesOnRequiredTaskFailure(t *testing.T) {
	symbols := []string{"AAAUSDT"}
	task := &scriptedTask{outputs: map[string]analysis.Output{}} // 必选任务必败
	provider := &fakeProvider{prices: map[string]float64{"AAAUSDT": 10}}
	o, _, state, ledger := newTestOrchestrator(t, task, provider, symbols)

	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("降级不应让循环失败: %v", err)
	}
	if len(ledger.Positions()) != 0 {
		t.Fatalf("降级循环不应开仓")
	}
	snap := state.Snapshot()
	if len(snap.Decisions) != 1 {
		t.Fatalf("降级也应留决策记录")
	}
	d := snap.Decisions[0].Verdict.Decision
	if d.Action != decision.ActionWait || d.Source != decision.SourceDegraded {
		t.Fatalf("降级决策应为 wait/degraded: %+v", d)
	}
}

func TestCycleDegradesOnMarketFailure(t *testing.T) {
	provider := &fakeProvider{err: market.ErrDataUnavailable}
	o, _, state, _ := newTestOrchestrator(t, &scriptedTask{}, provider, []string{"AAAUSDT"})

	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("行情失败不应让循环失败: %v", err)
	}
	snap := state.Snapshot()
	if snap.Decisions[0].Verdict.Decision.Source != decision.SourceDegraded {
		t.Fatalf("行情失败应降级: %+v", snap.Decisions[0])
	}
}

func TestCyclePausedDoesNotExecute(t *testing.T) {
	symbols := []string{"AAAUSDT"}
	task := &scriptedTask{outputs: map[string]analysis.Output{"AAAUSDT": bullish(80, 0.8)}}
	provider := &fakeProvider{prices: map[string]float64{"AAAUSDT": 10}}
	o, _, state, ledger := newTestOrchestrator(t, task, provider, symbols)

	state.SetMode(ModePaused)
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("循环失败: %v", err)
	}
	if len(ledger.Positions()) != 0 {
		t.Fatalf("暂停模式不应下单")
	}
	snap := state.Snapshot()
	if len(snap.Decisions) != 1 || snap.Decisions[0].Outcome != OutcomeNoop {
		t.Fatalf("暂停模式应照常分析但不执行: %+v", snap.Decisions)
	}
	// 决策本身仍是开仓建议。
	if !snap.Decisions[0].Verdict.Decision.Action.IsOpen() {
		t.Fatalf("暂停模式不应改变决策内容: %+v", snap.Decisions[0])
	}
}

func TestCycleSkipsWhenPreviousRunning(t *testing.T) {
	o, _, state, _ := newTestOrchestrator(t, &scriptedTask{}, &fakeProvider{}, []string{"AAAUSDT"})
	o.running.Store(true)
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("重入保护应静默跳过: %v", err)
	}
	if state.Snapshot().CycleCount != 0 {
		t.Fatalf("被跳过的触发不应计入循环数")
	}
}

// failingTrader 开平仓都失败的执行网关。
type failingTrader struct{}

func (failingTrader) Open(context.Context, exchange.OrderRequest) (exchange.Fill, error) {
	return exchange.Fill{}, exchange.ErrConnectivity
}

func (failingTrader) Close(context.Context, string, string, float64) (exchange.Fill, error) {
	return exchange.Fill{}, exchange.ErrConnectivity
}

func (failingTrader) Account(context.Context) (exchange.AccountState, error) {
	return exchange.AccountState{TotalEquity: 10000, AvailableMargin: 10000}, nil
}

func TestExecutorClosesAtMarkPrice(t *testing.T) {
	trader := exchange.NewPaperTrader(10000)
	ledger := NewLedger()
	state := NewGlobalState()
	ex := NewExecutor(trader, ledger, state, nil)

	outcome, detail := ex.Execute(context.Background(), "c-1", decision.RiskVerdict{
		Approved: true,
		Decision: decision.Decision{
			Symbol: "BTCUSDT", Action: decision.ActionOpenLong,
			EntryPrice: 50000, Leverage: 5, PositionSizeUSD: 5000,
		},
	})
	if outcome != OutcomeExecuted {
		t.Fatalf("开仓应成功: %s %s", outcome, detail)
	}

	// 价格跌到 40000 再平仓：盈亏必须按标记价结算，而不是按开仓价归零。
	ledger.UpdateMark("BTCUSDT", 40000)
	outcome, detail = ex.Execute(context.Background(), "c-2", decision.RiskVerdict{
		Approved: true,
		Decision: decision.Decision{Symbol: "BTCUSDT", Action: decision.ActionCloseLong},
	})
	if outcome != OutcomeExecuted {
		t.Fatalf("平仓应成功: %s %s", outcome, detail)
	}
	// 0.1 枚 × (40000-50000) = -1000。
	if pnl := ledger.RealizedPnL(); math.Abs(pnl+1000) > 1e-6 {
		t.Fatalf("平仓应按标记价结算, pnl=%.2f want -1000", pnl)
	}
	if detail != "pnl=-1000.00" {
		t.Fatalf("结果说明应带实际盈亏: %q", detail)
	}
}

func TestExecutorPersistsTrades(t *testing.T) {
	audit, err := database.OpenAuditStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("打开审计库失败: %v", err)
	}
	defer audit.Close()

	trader := exchange.NewPaperTrader(10000)
	ledger := NewLedger()
	state := NewGlobalState()
	ex := NewExecutor(trader, ledger, state, audit)

	ctx := context.Background()
	if outcome, detail := ex.Execute(ctx, "c-1", decision.RiskVerdict{
		Approved: true,
		Decision: decision.Decision{
			Symbol: "BTCUSDT", Action: decision.ActionOpenLong,
			EntryPrice: 50000, Leverage: 5, PositionSizeUSD: 5000,
		},
	}); outcome != OutcomeExecuted {
		t.Fatalf("开仓应成功: %s %s", outcome, detail)
	}
	ledger.UpdateMark("BTCUSDT", 51000)
	if outcome, detail := ex.Execute(ctx, "c-2", decision.RiskVerdict{
		Approved: true,
		Decision: decision.Decision{Symbol: "BTCUSDT", Action: decision.ActionCloseLong},
	}); outcome != OutcomeExecuted {
		t.Fatalf("平仓应成功: %s %s", outcome, detail)
	}

	trades, err := audit.RecentTrades(ctx, "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("查询成交失败: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("开平仓各应落一条成交, got %d", len(trades))
	}
	// 倒序：第一条是平仓。
	if trades[0].Action != "close" || trades[1].Action != "open" {
		t.Fatalf("成交动作不符: %+v", trades)
	}
	if math.Abs(trades[0].PnL-100) > 1e-6 {
		t.Fatalf("平仓记录应带盈亏 100, got %.2f", trades[0].PnL)
	}
}

func TestExecutorFailureLeavesLedgerUntouched(t *testing.T) {
	ledger := NewLedger()
	ledger.SyncAccount(exchange.AccountState{TotalEquity: 10000, AvailableMargin: 10000})
	state := NewGlobalState()
	ex := NewExecutor(failingTrader{}, ledger, state, nil)

	outcome, _ := ex.Execute(context.Background(), "c-1", decision.RiskVerdict{
		Approved: true,
		Decision: decision.Decision{
			Symbol: "BTCUSDT", Action: decision.ActionOpenLong,
			EntryPrice: 50000, Leverage: 5, PositionSizeUSD: 1000,
		},
	})
	if outcome != OutcomeFailed {
		t.Fatalf("执行失败应标记 execution_failed, got %s", outcome)
	}
	if len(ledger.Positions()) != 0 {
		t.Fatalf("执行失败不应改动账本")
	}
	if acct := ledger.Account(); acct.AvailableMargin != 10000 {
		t.Fatalf("执行失败不应占用保证金: %.2f", acct.AvailableMargin)
	}
	if len(state.Snapshot().Trades) != 0 {
		t.Fatalf("执行失败不应记录成交")
	}
}
