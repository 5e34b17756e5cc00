package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"tradeloop/internal/logger"
)

// PriceObserver 在每个成交价事件后收到回调（例如 ledger 的标记价更新）。
type PriceObserver interface {
	NotifyPrice(symbol string, price float64)
}

// PriceMonitor 订阅实时成交价并维护各标的的最新价缓存。
// Snapshot 的 LivePrice 与强平检查都读这里。
type PriceMonitor struct {
	source   Source
	observer PriceObserver

	lastPriceMu sync.RWMutex
	lastPrice   map[string]lastPriceEntry
}

type lastPriceEntry struct {
	price float64
	ts    int64
}

const lastPriceMaxAge = 10 * time.Second

func NewPriceMonitor(src Source, observer PriceObserver) *PriceMonitor {
	if src == nil {
		return nil
	}
	return &PriceMonitor{
		source:    src,
		observer:  observer,
		lastPrice: make(map[string]lastPriceEntry),
	}
}

// Start 建立成交价订阅并在后台消费事件，直到 ctx 结束。
func (m *PriceMonitor) Start(ctx context.Context, symbols []string) error {
	if m == nil {
		return nil
	}
	opts := SubscribeOptions{
		Buffer: 2048,
		OnConnect: func() {
			if ctx.Err() != nil {
				return
			}
			logger.Infof("实时成交价流已建立")
		},
		OnDisconnect: func(err error) {
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Warnf("实时成交价流断线: %v", err)
			} else {
				logger.Warnf("实时成交价流断线")
			}
		},
	}
	stream, err := m.source.SubscribeTrades(ctx, symbols, opts)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream:
				if !ok {
					return
				}
				m.handleTick(ev)
			}
		}
	}()
	return nil
}

func (m *PriceMonitor) handleTick(ev TickEvent) {
	if m == nil || ev.Price <= 0 {
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	if symbol == "" {
		return
	}
	ts := ev.EventTime
	if ts == 0 {
		ts = ev.TradeTime
	}
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	m.lastPriceMu.Lock()
	m.lastPrice[symbol] = lastPriceEntry{price: ev.Price, ts: ts}
	m.lastPriceMu.Unlock()

	if m.observer != nil {
		m.observer.NotifyPrice(symbol, ev.Price)
	}
}

// LatestPrice 返回未过期的最新成交价。
func (m *PriceMonitor) LatestPrice(symbol string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	m.lastPriceMu.RLock()
	entry, ok := m.lastPrice[symbol]
	m.lastPriceMu.RUnlock()
	if !ok || entry.price <= 0 {
		return 0, false
	}
	if entry.ts > 0 && time.Since(time.UnixMilli(entry.ts)) > lastPriceMaxAge {
		return 0, false
	}
	return entry.price, true
}

func (m *PriceMonitor) Stats() SourceStats {
	if m == nil || m.source == nil {
		return SourceStats{}
	}
	return m.source.Stats()
}
