package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/trading"
)

// BinanceTrader 币安 U 本位合约执行网关。
// 单向持仓模式；止损/止盈用 closePosition 条件市价单挂在交易所侧，
// 即使本进程宕机仓位也有保护。
type BinanceTrader struct {
	client       *futures.Client
	qtyPrecision int32
}

func NewBinanceTrader(apiKey, secretKey string, qtyPrecision int32) *BinanceTrader {
	if qtyPrecision <= 0 {
		qtyPrecision = 3
	}
	return &BinanceTrader{
		client:       futures.NewClient(apiKey, secretKey),
		qtyPrecision: qtyPrecision,
	}
}

func (t *BinanceTrader) Open(ctx context.Context, req OrderRequest) (Fill, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

	if _, err := t.client.NewChangeLeverageService().
		Symbol(symbol).Leverage(req.Leverage).Do(ctx); err != nil {
		return Fill{}, classify(fmt.Errorf("设置杠杆失败: %w", err))
	}

	qty := trading.QuantityForNotional(req.NotionalUSD, req.EntryPrice, t.qtyPrecision)
	if qty == "0" {
		return Fill{}, fmt.Errorf("%w: 数量换算为零 notional=%.2f price=%.4f", ErrRejected, req.NotionalUSD, req.EntryPrice)
	}

	side := futures.SideTypeBuy
	if req.Side == "short" {
		side = futures.SideTypeSell
	}
	order, err := t.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		Do(ctx)
	if err != nil {
		return Fill{}, classify(fmt.Errorf("市价开仓失败: %w", err))
	}

	fill := Fill{
		Symbol:   symbol,
		Side:     req.Side,
		Quantity: parseFloat(qty),
		Price:    req.EntryPrice,
		OrderID:  strconv.FormatInt(order.OrderID, 10),
		FilledAt: time.Now(),
	}
	if p := parseFloat(order.AvgPrice); p > 0 {
		fill.Price = p
	}

	// 保护单失败不回滚开仓：仓位已在交易所成立，只告警。
	if err := t.placeGuards(ctx, symbol, req); err != nil {
		logger.Errorf("保护单挂出失败 %s: %v", symbol, err)
	}
	return fill, nil
}

// placeGuards 挂出止损与止盈的 closePosition 条件市价单。
func (t *BinanceTrader) placeGuards(ctx context.Context, symbol string, req OrderRequest) error {
	closeSide := futures.SideTypeSell
	if req.Side == "short" {
		closeSide = futures.SideTypeBuy
	}
	if req.StopLoss > 0 {
		if _, err := t.client.NewCreateOrderService().
			Symbol(symbol).
			Side(closeSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(trading.FormatPrice(req.StopLoss, 4)).
			ClosePosition(true).
			Do(ctx); err != nil {
			return fmt.Errorf("止损单: %w", err)
		}
	}
	if req.TakeProfit > 0 {
		if _, err := t.client.NewCreateOrderService().
			Symbol(symbol).
			Side(closeSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(trading.FormatPrice(req.TakeProfit, 4)).
			ClosePosition(true).
			Do(ctx); err != nil {
			return fmt.Errorf("止盈单: %w", err)
		}
	}
	return nil
}

func (t *BinanceTrader) Close(ctx context.Context, symbol, side string, markPrice float64) (Fill, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	positions, err := t.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return Fill{}, classify(fmt.Errorf("查询持仓失败: %w", err))
	}
	var qty float64
	for _, p := range positions {
		amt := parseFloat(p.PositionAmt)
		if side == "long" && amt > 0 {
			qty = amt
		}
		if side == "short" && amt < 0 {
			qty = -amt
		}
	}
	if qty <= 0 {
		return Fill{}, fmt.Errorf("%w: 无可平持仓 %s/%s", ErrRejected, symbol, side)
	}

	orderSide := futures.SideTypeSell
	if side == "short" {
		orderSide = futures.SideTypeBuy
	}
	order, err := t.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return Fill{}, classify(fmt.Errorf("市价平仓失败: %w", err))
	}

	// 仓位已平，撤掉残留的保护单。
	if err := t.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		logger.Warnf("撤销保护单失败 %s: %v", symbol, err)
	}

	fill := Fill{
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Price:    markPrice,
		OrderID:  strconv.FormatInt(order.OrderID, 10),
		FilledAt: time.Now(),
	}
	if p := parseFloat(order.AvgPrice); p > 0 {
		fill.Price = p
	}
	return fill, nil
}

func (t *BinanceTrader) Account(ctx context.Context) (AccountState, error) {
	acct, err := t.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return AccountState{}, classify(fmt.Errorf("查询账户失败: %w", err))
	}
	state := AccountState{
		TotalEquity:     parseFloat(acct.TotalMarginBalance),
		AvailableMargin: parseFloat(acct.AvailableBalance),
	}
	for _, p := range acct.Positions {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "long"
		qty := amt
		if amt < 0 {
			side = "short"
			qty = -amt
		}
		state.Positions = append(state.Positions, PositionState{
			Symbol:        p.Symbol,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    parseFloat(p.EntryPrice),
			Leverage:      int(parseFloat(p.Leverage)),
			UnrealizedPnL: parseFloat(p.UnrealizedProfit),
		})
	}
	return state, nil
}

// classify 把交易所错误归入拒单或连通性两类。
func classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "code=-") || strings.Contains(strings.ToLower(msg), "insufficient") {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectivity, err)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
