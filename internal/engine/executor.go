package engine

import (
	"context"
	"fmt"

	"tradeloop/internal/decision"
	"tradeloop/internal/gateway/database"
	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/logger"
)

// 执行结果。
const (
	OutcomeExecuted  = "executed"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "execution_failed"
	OutcomeNoop      = "noop"
)

// Executor 把放行的决策落到交易所并同步账本。
// 失败不重试：结果标记 execution_failed，账本保持原状，问题留给下一循环
// 基于新鲜数据重新判断。
type Executor struct {
	trader exchange.Trader
	ledger *Ledger
	state  *GlobalState
	audit  *database.AuditStore // 可为 nil，审计失败不影响执行结果
}

func NewExecutor(trader exchange.Trader, ledger *Ledger, state *GlobalState, audit *database.AuditStore) *Executor {
	return &Executor{trader: trader, ledger: ledger, state: state, audit: audit}
}

func (e *Executor) auditTrade(ctx context.Context, tr database.TradeRecord) {
	if e.audit == nil {
		return
	}
	if err := e.audit.InsertTrade(ctx, tr); err != nil {
		logger.Warnf("成交审计写入失败 %s: %v", tr.Symbol, err)
	}
}

// Execute 执行单条放行决策，返回结果与说明。
func (e *Executor) Execute(ctx context.Context, cycleID string, v decision.RiskVerdict) (string, string) {
	d := v.Decision
	switch {
	case d.Action.IsClose():
		return e.executeClose(ctx, cycleID, d)
	case d.Action.IsOpen():
		return e.executeOpen(ctx, cycleID, d)
	default:
		return OutcomeNoop, ""
	}
}

func (e *Executor) executeClose(ctx context.Context, cycleID string, d decision.Decision) (string, string) {
	side := d.Action.Side()
	pos := e.ledger.Position(d.Symbol)
	if pos == nil || pos.Side != side {
		return OutcomeNoop, fmt.Sprintf("无 %s 方向持仓", side)
	}

	// 平仓按最新标记价成交；决策里的 EntryPrice 只对开仓有意义。
	closePrice := pos.MarkPrice
	if closePrice <= 0 {
		closePrice = d.EntryPrice
	}
	fill, err := e.trader.Close(ctx, d.Symbol, side, closePrice)
	if err != nil {
		logger.Errorf("平仓执行失败 %s %s: %v", d.Symbol, d.Action, err)
		return OutcomeFailed, err.Error()
	}
	pnl, err := e.ledger.ApplyClose(fill)
	if err != nil {
		// 成交已发生但入账失败，靠下一循环的账户同步纠偏。
		logger.Errorf("平仓入账失败 %s: %v", d.Symbol, err)
		return OutcomeFailed, err.Error()
	}
	e.state.RecordTrade(TradeEvent{
		CycleID: cycleID, Symbol: fill.Symbol, Side: fill.Side, Action: "close",
		Quantity: fill.Quantity, Price: fill.Price, PnL: pnl, At: fill.FilledAt,
	})
	e.auditTrade(ctx, database.TradeRecord{
		CycleID: cycleID, Symbol: fill.Symbol, Side: fill.Side, Action: "close",
		Quantity: fill.Quantity, Price: fill.Price, PnL: pnl, OrderID: fill.OrderID,
		CreatedAt: fill.FilledAt.UnixMilli(),
	})
	logger.Infof("平仓完成 %s %s qty=%.6f @ %.4f pnl=%.2f", fill.Symbol, fill.Side, fill.Quantity, fill.Price, pnl)
	return OutcomeExecuted, fmt.Sprintf("pnl=%.2f", pnl)
}

func (e *Executor) executeOpen(ctx context.Context, cycleID string, d decision.Decision) (string, string) {
	if e.ledger.Position(d.Symbol) != nil {
		return OutcomeNoop, "已有持仓"
	}

	req := exchange.OrderRequest{
		Symbol:      d.Symbol,
		Side:        d.Action.Side(),
		NotionalUSD: d.PositionSizeUSD,
		Leverage:    d.Leverage,
		EntryPrice:  d.EntryPrice,
		StopLoss:    d.StopLoss,
		TakeProfit:  d.TakeProfit,
	}
	fill, err := e.trader.Open(ctx, req)
	if err != nil {
		logger.Errorf("开仓执行失败 %s %s: %v", d.Symbol, d.Action, err)
		return OutcomeFailed, err.Error()
	}
	if err := e.ledger.ApplyOpen(fill, d); err != nil {
		logger.Errorf("开仓入账失败 %s: %v", d.Symbol, err)
		return OutcomeFailed, err.Error()
	}
	e.state.RecordTrade(TradeEvent{
		CycleID: cycleID, Symbol: fill.Symbol, Side: fill.Side, Action: "open",
		Quantity: fill.Quantity, Price: fill.Price, At: fill.FilledAt,
	})
	e.auditTrade(ctx, database.TradeRecord{
		CycleID: cycleID, Symbol: fill.Symbol, Side: fill.Side, Action: "open",
		Quantity: fill.Quantity, Price: fill.Price, OrderID: fill.OrderID,
		CreatedAt: fill.FilledAt.UnixMilli(),
	})
	logger.Infof("开仓完成 %s %s qty=%.6f @ %.4f lev=%d", fill.Symbol, fill.Side, fill.Quantity, fill.Price, d.Leverage)
	return OutcomeExecuted, ""
}
