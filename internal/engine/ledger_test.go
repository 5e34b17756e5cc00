package engine

import (
	"testing"
	"time"

	"tradeloop/internal/decision"
	"tradeloop/internal/gateway/exchange"
)

func TestLedgerOpenCloseLifecycle(t *testing.T) {
	l := NewLedger()
	l.SyncAccount(exchange.AccountState{TotalEquity: 10000, AvailableMargin: 10000})

	fill := exchange.Fill{Symbol: "BTCUSDT", Side: "long", Quantity: 0.1, Price: 50000, FilledAt: time.Now()}
	if err := l.ApplyOpen(fill, decision.Decision{Symbol: "BTCUSDT", Leverage: 10}); err != nil {
		t.Fatalf("开仓入账失败: %v", err)
	}
	if err := l.ApplyOpen(fill, decision.Decision{Symbol: "BTCUSDT", Leverage: 10}); err == nil {
		t.Fatalf("重复开仓入账应报错")
	}

	pos := l.Position("btcusdt")
	if pos == nil || pos.Notional != 5000 || pos.Leverage != 10 {
		t.Fatalf("持仓视图错误: %+v", pos)
	}
	// 名义 5000 / 杠杆 10 = 500 保证金。
	if acct := l.Account(); acct.AvailableMargin != 9500 {
		t.Fatalf("可用保证金应为 9500, got %.2f", acct.AvailableMargin)
	}

	l.UpdateMark("BTCUSDT", 51000)
	if pos := l.Position("BTCUSDT"); pos.UnrealizedPnL != 100 || pos.MarkPrice != 51000 {
		t.Fatalf("标记价与浮盈应更新: %+v", pos)
	}

	pnl, err := l.ApplyClose(exchange.Fill{Symbol: "BTCUSDT", Side: "long", Quantity: 0.1, Price: 51000})
	if err != nil {
		t.Fatalf("平仓入账失败: %v", err)
	}
	if pnl != 100 {
		t.Fatalf("已实现盈亏应为 100, got %.2f", pnl)
	}
	if l.Position("BTCUSDT") != nil {
		t.Fatalf("平仓后持仓应清空")
	}
	if acct := l.Account(); acct.TotalEquity != 10100 {
		t.Fatalf("平仓后权益应为 10100, got %.2f", acct.TotalEquity)
	}
	if l.RealizedPnL() != 100 {
		t.Fatalf("累计已实现盈亏错误: %.2f", l.RealizedPnL())
	}
}

func TestLedgerShortClose(t *testing.T) {
	l := NewLedger()
	l.SyncAccount(exchange.AccountState{TotalEquity: 10000, AvailableMargin: 10000})
	_ = l.ApplyOpen(exchange.Fill{Symbol: "ETHUSDT", Side: "short", Quantity: 1, Price: 3000}, decision.Decision{Leverage: 5})

	pnl, err := l.ApplyClose(exchange.Fill{Symbol: "ETHUSDT", Side: "short", Quantity: 1, Price: 2900})
	if err != nil {
		t.Fatalf("平空入账失败: %v", err)
	}
	if pnl != 100 {
		t.Fatalf("空头下跌应盈利 100, got %.2f", pnl)
	}
}

func TestLedgerSyncAccountOverridesPositions(t *testing.T) {
	l := NewLedger()
	_ = l.ApplyOpen(exchange.Fill{Symbol: "BTCUSDT", Side: "long", Quantity: 0.1, Price: 50000}, decision.Decision{Leverage: 10})

	// 交易所侧只有 ETH 持仓：本地 BTC 持仓被覆盖掉。
	l.SyncAccount(exchange.AccountState{
		TotalEquity: 8000, AvailableMargin: 7000,
		Positions: []exchange.PositionState{
			{Symbol: "ETHUSDT", Side: "short", Quantity: 1, EntryPrice: 3000, Leverage: 5},
		},
	})
	if l.Position("BTCUSDT") != nil {
		t.Fatalf("同步后本地多余持仓应移除")
	}
	eth := l.Position("ETHUSDT")
	if eth == nil || eth.Side != "short" || eth.Notional != 3000 {
		t.Fatalf("同步后持仓应来自交易所: %+v", eth)
	}
}

func TestLedgerCloseWithoutPosition(t *testing.T) {
	l := NewLedger()
	if _, err := l.ApplyClose(exchange.Fill{Symbol: "BTCUSDT", Side: "long"}); err == nil {
		t.Fatalf("无持仓平仓入账应报错")
	}
}
