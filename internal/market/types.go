package market

import (
	"errors"
	"time"
)

// 中文说明：
// 本文件定义行情侧的通用数据结构：K 线、周期快照与实时事件。
// Snapshot 每个循环生成一次，生成之后只读。

// Candle 单根 K 线，时间单位为毫秒时间戳。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades,omitempty"`
}

// Snapshot 某个标的在一个循环内的全部市场上下文：
// 多周期 K 线序列 + 最新成交价，带采样时间戳。
type Snapshot struct {
	Symbol    string
	Series    map[string][]Candle // interval -> 升序 K 线
	LivePrice float64
	Timestamp time.Time
}

// Candles 返回指定周期的 K 线（没有则为 nil）。
func (s Snapshot) Candles(interval string) []Candle {
	if s.Series == nil {
		return nil
	}
	return s.Series[interval]
}

// ErrDataUnavailable 表示本循环无法取得该标的的行情数据。
var ErrDataUnavailable = errors.New("market data unavailable")

// TickEvent 实时成交价事件（aggTrade）。
type TickEvent struct {
	Symbol    string
	Price     float64
	Quantity  float64
	EventTime int64
	TradeTime int64
}

// SubscribeOptions 控制实时订阅行为。
type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

// SourceStats 记录数据源运行期的一些指标。
type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}
