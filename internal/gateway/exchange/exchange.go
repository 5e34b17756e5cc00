package exchange

import (
	"context"
	"errors"
	"time"
)

// 中文说明：
// 执行网关把经过风控的决策落地成交易所动作。接口刻意收窄：
// 开仓、平仓、查账户，其余交易所能力不进入控制回路。

// ErrRejected 交易所明确拒单（参数、余额、风控等）。
var ErrRejected = errors.New("order rejected")

// ErrConnectivity 网络或交易所临时不可用。
var ErrConnectivity = errors.New("exchange unavailable")

// OrderRequest 开仓请求（已通过风控，字段齐全）。
type OrderRequest struct {
	Symbol      string
	Side        string // "long" / "short"
	NotionalUSD float64
	Leverage    int
	EntryPrice  float64 // 参考价，用于数量换算
	StopLoss    float64
	TakeProfit  float64
}

// Fill 成交回执。
type Fill struct {
	Symbol   string
	Side     string
	Quantity float64
	Price    float64
	OrderID  string
	FilledAt time.Time
}

// PositionState 交易所侧持仓。
type PositionState struct {
	Symbol        string
	Side          string
	Quantity      float64
	EntryPrice    float64
	Leverage      int
	UnrealizedPnL float64
	MarkPrice     float64
}

// AccountState 交易所侧账户。
type AccountState struct {
	TotalEquity     float64
	AvailableMargin float64
	Positions       []PositionState
}

// Trader 执行网关接口。
type Trader interface {
	// Open 市价开仓并挂出止损/止盈。
	Open(ctx context.Context, req OrderRequest) (Fill, error)
	// Close 市价全平指定方向的持仓。
	Close(ctx context.Context, symbol, side string, markPrice float64) (Fill, error)
	// Account 拉取账户与持仓。
	Account(ctx context.Context) (AccountState, error)
}
