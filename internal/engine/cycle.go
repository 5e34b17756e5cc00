package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tradeloop/internal/analysis"
	"tradeloop/internal/decision"
	"tradeloop/internal/gateway/database"
	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/risk"
	"tradeloop/internal/universe"
)

// 中文说明：
// 编排器是控制回路的主干：每个调度周期做一轮
// 选标的 → 并行分析 → 路由 → 风控 → 屏障 → 准入 → 执行 → 记账 → 留档。
// 上一循环没跑完时直接跳过本次触发，绝不并发跑两个循环。

// OrchestratorConfig 循环参数。
type OrchestratorConfig struct {
	// CycleTimeout 整个循环的硬超时。
	CycleTimeout time.Duration
	// SymbolTimeout 单标的分析（含路由）的超时。
	SymbolTimeout time.Duration
	// MaxOpensPerCycle 每循环最多放行的开仓数。
	MaxOpensPerCycle int
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 3 * time.Minute
	}
	if c.SymbolTimeout <= 0 {
		c.SymbolTimeout = 60 * time.Second
	}
	if c.MaxOpensPerCycle <= 0 {
		c.MaxOpensPerCycle = 1
	}
	return c
}

// CycleEntry 单标的的循环结果。
type CycleEntry struct {
	Symbol  string
	Verdict decision.RiskVerdict
	Outcome string
	Detail  string
}

// CycleResult 一个完整循环的结果。
type CycleResult struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Entries   []CycleEntry
}

// Orchestrator 周期控制回路。
type Orchestrator struct {
	cfg      OrchestratorConfig
	selector *universe.Selector
	provider market.SnapshotProvider
	pool     *analysis.Pool
	router   *decision.Router
	gate     *risk.Gate
	executor *Executor
	ledger   *Ledger
	state    *GlobalState
	trader   exchange.Trader
	audit    *database.AuditStore // 可为 nil

	running atomic.Bool

	mu          sync.Mutex
	prevOutputs map[string]map[string]analysis.Output
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	selector *universe.Selector,
	provider market.SnapshotProvider,
	pool *analysis.Pool,
	router *decision.Router,
	gate *risk.Gate,
	executor *Executor,
	ledger *Ledger,
	state *GlobalState,
	trader exchange.Trader,
	audit *database.AuditStore,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		selector:    selector,
		provider:    provider,
		pool:        pool,
		router:      router,
		gate:        gate,
		executor:    executor,
		ledger:      ledger,
		state:       state,
		trader:      trader,
		audit:       audit,
		prevOutputs: make(map[string]map[string]analysis.Output),
	}
}

// Name 实现 scheduler.Job。
func (o *Orchestrator) Name() string { return "cycle" }

// Run 实现 scheduler.Job：由定时器触发一轮循环。
func (o *Orchestrator) Run() error {
	return o.RunCycle(context.Background())
}

// RunCycle 执行一轮完整循环。重入保护：上一轮未结束直接跳过。
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		logger.Warnf("上一循环仍在运行，跳过本次触发")
		return nil
	}
	defer o.running.Store(false)

	if o.state.Mode() == ModeStopped {
		return nil
	}

	start := time.Now()
	cycleID := uuid.NewString()[:8]
	o.state.BeginCycle(cycleID, start)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.CycleTimeout)
	defer cancel()

	// 账户同步失败沿用上一份视图，不中断循环。
	if acct, err := o.trader.Account(ctx); err != nil {
		logger.Warnf("账户同步失败（沿用旧视图）: %v", err)
	} else {
		o.ledger.SyncAccount(acct)
	}

	symbols := o.selector.Refresh(ctx)
	if len(symbols) == 0 {
		logger.Warnf("循环 %s: 无可用标的", cycleID)
		return nil
	}
	logger.Infof("循环 %s 开始: %d 个标的", cycleID, len(symbols))

	// 并行分析，结果按标的顺序落位，这个顺序就是准入的决胜顺序。
	entries := make([]CycleEntry, len(symbols))
	var g errgroup.Group
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			entries[i] = o.analyzeSymbol(ctx, symbol)
			return nil
		})
	}
	_ = g.Wait() // 屏障：所有标的聚齐后才进入准入

	verdicts := make([]decision.RiskVerdict, len(entries))
	for i, e := range entries {
		verdicts[i] = e.Verdict
	}
	plan := Admit(verdicts, o.cfg.MaxOpensPerCycle)

	o.executePlan(ctx, cycleID, plan, entries)
	o.finishCycle(ctx, cycleID, start, entries)
	return nil
}

// analyzeSymbol 单标的完整管线：快照 → 任务池 → 共识 → 路由 → 风控。
// 任何必选环节失败都降级为观望，而不是让循环失败。
func (o *Orchestrator) analyzeSymbol(ctx context.Context, symbol string) CycleEntry {
	symCtx, cancel := context.WithTimeout(ctx, o.cfg.SymbolTimeout)
	defer cancel()

	snap, err := o.provider.Fetch(symCtx, symbol, time.Now())
	if err != nil {
		logger.Warnf("行情快照失败 %s: %v", symbol, err)
		return o.degradedEntry(symbol, fmt.Sprintf("行情不可用: %v", err))
	}
	o.ledger.UpdateMark(symbol, snap.LivePrice)

	prior := o.priorContext(symbol)
	outputs, err := o.pool.Run(symCtx, snap, prior)
	if err != nil {
		logger.Warnf("必选分析失败 %s: %v", symbol, err)
		return o.degradedEntry(symbol, fmt.Sprintf("必选分析失败: %v", err))
	}
	o.storePrevOutputs(symbol, outputs)

	summary, err := analysis.Aggregate(symbol, outputs)
	if err != nil {
		return o.degradedEntry(symbol, err.Error())
	}

	d := o.router.Route(symCtx, decision.RouteContext{
		Symbol:    symbol,
		Summary:   summary,
		Position:  o.ledger.Position(symbol),
		LivePrice: snap.LivePrice,
		Prior:     prior,
	})
	verdict := o.gate.Review(d, o.ledger.Account(), snap.LivePrice, snap.Series[o.gate.ATRTimeframe()])
	return CycleEntry{Symbol: symbol, Verdict: verdict}
}

// degradedEntry 降级结果：来源 degraded 的观望决策，直接放行。
func (o *Orchestrator) degradedEntry(symbol, detail string) CycleEntry {
	d := decision.Decision{
		Symbol:    symbol,
		Action:    decision.ActionWait,
		Source:    decision.SourceDegraded,
		Reasoning: detail,
		DecidedAt: time.Now(),
	}
	return CycleEntry{
		Symbol:  symbol,
		Verdict: decision.RiskVerdict{Approved: true, Decision: d},
		Detail:  detail,
	}
}

// executePlan 先平后开；废弃与观望一并标注结果。
func (o *Orchestrator) executePlan(ctx context.Context, cycleID string, plan AdmissionPlan, entries []CycleEntry) {
	paused := o.state.Mode() == ModePaused

	outcomes := make(map[string]*CycleEntry, len(entries))
	for i := range entries {
		outcomes[entries[i].Symbol] = &entries[i]
	}

	runOne := func(v decision.RiskVerdict) {
		entry := outcomes[v.Decision.Symbol]
		if entry == nil {
			return
		}
		if paused {
			entry.Outcome = OutcomeNoop
			entry.Detail = "暂停模式，不执行"
			return
		}
		entry.Outcome, entry.Detail = o.executor.Execute(ctx, cycleID, v)
	}
	for _, v := range plan.Closes {
		runOne(v)
	}
	for _, v := range plan.Opens {
		runOne(v)
	}
	for _, v := range plan.Discarded {
		if entry := outcomes[v.Decision.Symbol]; entry != nil {
			entry.Outcome = OutcomeDiscarded
			entry.Detail = "本循环开仓额度已用完"
		}
	}
	for i := range entries {
		if entries[i].Outcome == "" {
			entries[i].Outcome = OutcomeNoop
		}
	}
}

// finishCycle 记账、留档、发布状态并打印循环报表。
func (o *Orchestrator) finishCycle(ctx context.Context, cycleID string, start time.Time, entries []CycleEntry) {
	now := time.Now()
	for _, e := range entries {
		o.state.RecordDecision(DecisionEvent{
			CycleID: cycleID, Verdict: e.Verdict, Outcome: e.Outcome, Detail: e.Detail, At: now,
		})
		if o.audit != nil {
			d := e.Verdict.Decision
			rec := database.CycleRecord{
				CycleID:     cycleID,
				Symbol:      e.Symbol,
				Action:      string(d.Action),
				Confidence:  d.Confidence,
				Source:      d.Source,
				Reasoning:   d.Reasoning,
				Approved:    e.Verdict.Approved,
				VetoReason:  e.Verdict.VetoReason,
				Corrections: e.Verdict.Corrections,
				Outcome:     e.Outcome,
				Detail:      e.Detail,
			}
			if e.Verdict.VetoedAction != "" {
				rec.Action = string(e.Verdict.VetoedAction)
			}
			if err := o.audit.InsertCycleRecord(ctx, rec); err != nil {
				logger.Warnf("审计写入失败 %s/%s: %v", cycleID, e.Symbol, err)
			}
		}
	}

	acct := o.ledger.Account()
	positions := o.ledger.Positions()
	o.state.RecordEquity(acct.TotalEquity, o.ledger.RealizedPnL(), positions, now)

	result := CycleResult{CycleID: cycleID, StartedAt: start, Duration: time.Since(start), Entries: entries}
	logger.Infof("循环 %s 完成，耗时 %s\n%s", cycleID, result.Duration.Round(time.Millisecond), RenderCycleTable(result))
	if len(positions) > 0 {
		logger.Infof("当前持仓\n%s", RenderPositionsTable(o.state.Snapshot()))
	}
}

func (o *Orchestrator) priorContext(symbol string) analysis.PriorContext {
	o.mu.Lock()
	prev := o.prevOutputs[symbol]
	o.mu.Unlock()

	var trades []analysis.TradeOutcome
	for _, tr := range o.state.Snapshot().Trades {
		if tr.Symbol != symbol || tr.Action != "close" {
			continue
		}
		trades = append(trades, analysis.TradeOutcome{
			Symbol:   tr.Symbol,
			Action:   tr.Side,
			PnL:      tr.PnL,
			ClosedAt: tr.At,
		})
	}
	return analysis.PriorContext{Previous: prev, RecentTrades: trades}
}

func (o *Orchestrator) storePrevOutputs(symbol string, outputs map[string]analysis.Output) {
	o.mu.Lock()
	o.prevOutputs[symbol] = outputs
	o.mu.Unlock()
}
