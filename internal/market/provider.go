package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradeloop/internal/logger"
)

// LivePriceReader 提供某标的的最新成交价（可能不可用）。
type LivePriceReader interface {
	LatestPrice(symbol string) (float64, bool)
}

// KlineCache 缓存最近一次成功拉取的序列，REST 失败时降级供数。
type KlineCache interface {
	Set(ctx context.Context, symbol, interval string, ks []Candle) error
	Get(ctx context.Context, symbol, interval string) ([]Candle, error)
}

// ProviderConfig 控制快照的采样窗口。
type ProviderConfig struct {
	Intervals []string // 例如 ["5m", "15m", "1h"]
	Limit     int      // 每个周期拉取的 K 线数
}

// CompositeProvider 组合 REST 历史与 WS 实时价，产出循环用的 Snapshot。
// 任一周期取不到数据即视为 DataUnavailable，由调用方跳过该标的。
type CompositeProvider struct {
	src   Source
	live  LivePriceReader
	cache KlineCache
	cfg   ProviderConfig
}

func NewCompositeProvider(src Source, live LivePriceReader, cfg ProviderConfig) (*CompositeProvider, error) {
	if src == nil {
		return nil, fmt.Errorf("market source 不能为空")
	}
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = []string{"5m", "15m", "1h"}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	return &CompositeProvider{src: src, live: live, cfg: cfg}, nil
}

// WithCache 可选挂接 K 线缓存，拉取失败时用上一次成功的序列顶替。
func (p *CompositeProvider) WithCache(c KlineCache) *CompositeProvider {
	p.cache = c
	return p
}

func (p *CompositeProvider) cachedSeries(ctx context.Context, symbol, interval string) []Candle {
	if p.cache == nil {
		return nil
	}
	ks, err := p.cache.Get(ctx, symbol, interval)
	if err != nil {
		return nil
	}
	return ks
}

func (p *CompositeProvider) Fetch(ctx context.Context, symbol string, at time.Time) (Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Snapshot{}, fmt.Errorf("symbol 不能为空: %w", ErrDataUnavailable)
	}
	series := make(map[string][]Candle, len(p.cfg.Intervals))
	for _, iv := range p.cfg.Intervals {
		candles, err := p.src.FetchHistory(ctx, symbol, iv, p.cfg.Limit)
		if err != nil || len(candles) == 0 {
			cached := p.cachedSeries(ctx, symbol, iv)
			if len(cached) == 0 {
				if err == nil {
					return Snapshot{}, fmt.Errorf("%s %s 无 K 线: %w", symbol, iv, ErrDataUnavailable)
				}
				return Snapshot{}, fmt.Errorf("拉取 %s %s 失败: %v: %w", symbol, iv, err, ErrDataUnavailable)
			}
			logger.Warnf("[market] %s %s 拉取失败，使用缓存序列（%d 根）: %v", symbol, iv, len(cached), err)
			series[iv] = cached
			continue
		}
		if p.cache != nil {
			if cerr := p.cache.Set(ctx, symbol, iv, candles); cerr != nil {
				logger.Debugf("[market] 缓存 %s %s 失败: %v", symbol, iv, cerr)
			}
		}
		series[iv] = candles
	}
	snap := Snapshot{Symbol: symbol, Series: series, Timestamp: at}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	// 实时价优先取 WS 成交价，回退到最短周期的最新收盘价。
	if p.live != nil {
		if lp, ok := p.live.LatestPrice(symbol); ok && lp > 0 {
			snap.LivePrice = lp
		}
	}
	if snap.LivePrice <= 0 {
		first := series[p.cfg.Intervals[0]]
		snap.LivePrice = first[len(first)-1].Close
		logger.Debugf("[market] %s 实时价缺失，回退到 %s 收盘价 %.4f", symbol, p.cfg.Intervals[0], snap.LivePrice)
	}
	return snap, nil
}
