package engine

import (
	"fmt"
	"strings"
	"sync"

	"tradeloop/internal/decision"
	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/risk"
)

// Ledger 持仓与账户的唯一事实来源。所有变更只发生在循环线程，
// 读方拿到的都是值拷贝。
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*decision.PositionView
	account   risk.AccountView
	realized  float64 // 累计已实现盈亏
}

func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]*decision.PositionView)}
}

// SyncAccount 用交易所侧账户覆盖本地账户视图。
func (l *Ledger) SyncAccount(state exchange.AccountState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account = risk.AccountView{
		TotalEquity:     state.TotalEquity,
		AvailableMargin: state.AvailableMargin,
	}
	// 交易所侧持仓为准：覆盖本地（重启恢复、外部手工操作都走这里）。
	next := make(map[string]*decision.PositionView, len(state.Positions))
	for _, p := range state.Positions {
		sym := strings.ToUpper(p.Symbol)
		view := &decision.PositionView{
			Symbol:        sym,
			Side:          p.Side,
			EntryPrice:    p.EntryPrice,
			Quantity:      p.Quantity,
			Leverage:      p.Leverage,
			Notional:      p.EntryPrice * p.Quantity,
			MarkPrice:     p.MarkPrice,
			UnrealizedPnL: p.UnrealizedPnL,
		}
		if prev, ok := l.positions[sym]; ok {
			view.OpenedAt = prev.OpenedAt
			// 交易所账户接口不带标记价时沿用本地最近一次标记。
			if view.MarkPrice <= 0 {
				view.MarkPrice = prev.MarkPrice
			}
		}
		next[sym] = view
	}
	l.positions = next
}

// Account 当前账户视图，含持仓拷贝供风控看组合敞口。
func (l *Ledger) Account() risk.AccountView {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct := l.account
	for _, p := range l.positions {
		acct.Positions = append(acct.Positions, *p)
	}
	return acct
}

// Position 指定标的的持仓拷贝，无持仓返回 nil。
func (l *Ledger) Position(symbol string) *decision.PositionView {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// Positions 全部持仓拷贝。
func (l *Ledger) Positions() []decision.PositionView {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]decision.PositionView, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// ApplyOpen 开仓成交入账。同标的已有持仓视为编程错误。
func (l *Ledger) ApplyOpen(fill exchange.Fill, d decision.Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	sym := strings.ToUpper(fill.Symbol)
	if _, exists := l.positions[sym]; exists {
		return fmt.Errorf("持仓已存在: %s", sym)
	}
	lev := d.Leverage
	if lev <= 0 {
		lev = 1
	}
	notional := fill.Price * fill.Quantity
	l.positions[sym] = &decision.PositionView{
		Symbol:     sym,
		Side:       fill.Side,
		EntryPrice: fill.Price,
		Quantity:   fill.Quantity,
		Leverage:   lev,
		Notional:   notional,
		OpenedAt:   fill.FilledAt,
	}
	l.account.AvailableMargin -= notional / float64(lev)
	if l.account.AvailableMargin < 0 {
		l.account.AvailableMargin = 0
	}
	return nil
}

// ApplyClose 平仓成交入账，返回已实现盈亏。
func (l *Ledger) ApplyClose(fill exchange.Fill) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sym := strings.ToUpper(fill.Symbol)
	pos, ok := l.positions[sym]
	if !ok {
		return 0, fmt.Errorf("无持仓可平: %s", sym)
	}
	pnl := (fill.Price - pos.EntryPrice) * pos.Quantity
	if pos.Side == "short" {
		pnl = -pnl
	}
	lev := pos.Leverage
	if lev <= 0 {
		lev = 1
	}
	delete(l.positions, sym)
	l.realized += pnl
	l.account.TotalEquity += pnl
	l.account.AvailableMargin += pos.Notional/float64(lev) + pnl
	if l.account.AvailableMargin < 0 {
		l.account.AvailableMargin = 0
	}
	return pnl, nil
}

// UpdateMark 用最新标记价重算浮盈。
func (l *Ledger) UpdateMark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[strings.ToUpper(symbol)]
	if !ok {
		return
	}
	pnl := (price - pos.EntryPrice) * pos.Quantity
	if pos.Side == "short" {
		pnl = -pnl
	}
	pos.MarkPrice = price
	pos.UnrealizedPnL = pnl
}

// RealizedPnL 累计已实现盈亏。
func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realized
}
