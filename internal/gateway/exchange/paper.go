package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"tradeloop/internal/logger"
)

// PaperTrader 纸面执行网关（dry-run）。所有成交即时按参考价撮合，
// 账户与持仓全部在内存中模拟，接口语义与真实网关一致。
type PaperTrader struct {
	mu        sync.Mutex
	equity    float64
	used      float64 // 已占用保证金
	positions map[string]*PositionState
	seq       int64
}

func NewPaperTrader(initialEquity float64) *PaperTrader {
	if initialEquity <= 0 {
		initialEquity = 10000
	}
	return &PaperTrader{
		equity:    initialEquity,
		positions: make(map[string]*PositionState),
	}
}

func (t *PaperTrader) Open(_ context.Context, req OrderRequest) (Fill, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if req.EntryPrice <= 0 || req.NotionalUSD <= 0 {
		return Fill{}, fmt.Errorf("%w: 非法开仓参数", ErrRejected)
	}
	if _, exists := t.positions[req.Symbol]; exists {
		return Fill{}, fmt.Errorf("%w: %s 已有持仓", ErrRejected, req.Symbol)
	}
	lev := req.Leverage
	if lev <= 0 {
		lev = 1
	}
	margin := req.NotionalUSD / float64(lev)
	if margin > t.equity-t.used {
		return Fill{}, fmt.Errorf("%w: 模拟保证金不足", ErrRejected)
	}

	qty := req.NotionalUSD / req.EntryPrice
	t.used += margin
	t.positions[req.Symbol] = &PositionState{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   qty,
		EntryPrice: req.EntryPrice,
		Leverage:   lev,
		MarkPrice:  req.EntryPrice,
	}
	t.seq++
	logger.Infof("[纸面] 开仓 %s %s qty=%.6f @ %.4f lev=%d", req.Symbol, req.Side, qty, req.EntryPrice, lev)
	return Fill{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: qty,
		Price:    req.EntryPrice,
		OrderID:  "paper-" + strconv.FormatInt(t.seq, 10),
		FilledAt: time.Now(),
	}, nil
}

func (t *PaperTrader) Close(_ context.Context, symbol, side string, markPrice float64) (Fill, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok || pos.Side != side {
		return Fill{}, fmt.Errorf("%w: 无可平持仓 %s/%s", ErrRejected, symbol, side)
	}
	// 调用方没给价就退到最近一次标记价，再退到开仓价。
	price := markPrice
	if price <= 0 {
		price = pos.MarkPrice
	}
	if price <= 0 {
		price = pos.EntryPrice
	}

	pnl := (price - pos.EntryPrice) * pos.Quantity
	if pos.Side == "short" {
		pnl = -pnl
	}
	t.equity += pnl
	t.used -= pos.EntryPrice * pos.Quantity / float64(pos.Leverage)
	if t.used < 0 {
		t.used = 0
	}
	delete(t.positions, symbol)
	t.seq++
	logger.Infof("[纸面] 平仓 %s %s @ %.4f pnl=%.2f", symbol, side, price, pnl)
	return Fill{
		Symbol:   symbol,
		Side:     side,
		Quantity: pos.Quantity,
		Price:    price,
		OrderID:  "paper-" + strconv.FormatInt(t.seq, 10),
		FilledAt: time.Now(),
	}, nil
}

func (t *PaperTrader) Account(_ context.Context) (AccountState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := AccountState{
		TotalEquity:     t.equity,
		AvailableMargin: t.equity - t.used,
	}
	for _, p := range t.positions {
		cp := *p
		state.Positions = append(state.Positions, cp)
	}
	return state, nil
}

// MarkPrice 更新模拟持仓的标记价并重算浮盈。
func (t *PaperTrader) MarkPrice(symbol string, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[symbol]
	if !ok || price <= 0 {
		return
	}
	pos.MarkPrice = price
	pnl := (price - pos.EntryPrice) * pos.Quantity
	if pos.Side == "short" {
		pnl = -pnl
	}
	pos.UnrealizedPnL = pnl
}
