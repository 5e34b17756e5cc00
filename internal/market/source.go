package market

import (
	"context"
	"time"
)

// Source 统一对接外部行情供应商。
type Source interface {
	// FetchHistory 拉取最近 limit 根 K 线并按时间升序返回。
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	// SubscribeTrades 订阅实时成交价（如 aggTrade），供价格监控使用。
	SubscribeTrades(ctx context.Context, symbols []string, opts SubscribeOptions) (<-chan TickEvent, error)
	// Stats 返回当前运行状态（若 source 不支持则返回零值）。
	Stats() SourceStats
	// Close 释放底层资源，例如关闭 WS 连接。
	Close() error
}

// SnapshotProvider 是循环侧消费行情的唯一入口：
// 按标的取一份完整的多周期快照，取不到时返回 ErrDataUnavailable。
type SnapshotProvider interface {
	Fetch(ctx context.Context, symbol string, at time.Time) (Snapshot, error)
}
