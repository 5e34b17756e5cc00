package market

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	history map[string][]Candle // interval -> series
	err     error
	calls   int
}

func (f *fakeSource) FetchHistory(_ context.Context, _, interval string, _ int) ([]Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.history[interval], nil
}

func (f *fakeSource) SubscribeTrades(context.Context, []string, SubscribeOptions) (<-chan TickEvent, error) {
	return nil, errors.New("未实现")
}

func (f *fakeSource) Stats() SourceStats { return SourceStats{} }
func (f *fakeSource) Close() error       { return nil }

type fakeLive struct {
	price float64
	ok    bool
}

func (f fakeLive) LatestPrice(string) (float64, bool) { return f.price, f.ok }

type memCache struct {
	data map[string][]Candle
}

func (c *memCache) Set(_ context.Context, symbol, interval string, ks []Candle) error {
	if c.data == nil {
		c.data = make(map[string][]Candle)
	}
	cp := make([]Candle, len(ks))
	copy(cp, ks)
	c.data[symbol+"@"+interval] = cp
	return nil
}

func (c *memCache) Get(_ context.Context, symbol, interval string) ([]Candle, error) {
	return c.data[symbol+"@"+interval], nil
}

func series(closes ...float64) []Candle {
	out := make([]Candle, 0, len(closes))
	for i, cl := range closes {
		out = append(out, Candle{OpenTime: int64(i) * 60_000, Close: cl})
	}
	return out
}

func TestCompositeProviderFetch(t *testing.T) {
	src := &fakeSource{history: map[string][]Candle{
		"5m": series(1, 2, 3),
		"1h": series(10, 11),
	}}
	p, err := NewCompositeProvider(src, fakeLive{price: 3.5, ok: true}, ProviderConfig{Intervals: []string{"5m", "1h"}})
	if err != nil {
		t.Fatalf("构建 provider 失败: %v", err)
	}
	snap, err := p.Fetch(context.Background(), "btcusdt", time.Now())
	if err != nil {
		t.Fatalf("Fetch 失败: %v", err)
	}
	if snap.Symbol != "BTCUSDT" {
		t.Fatalf("symbol 未规范化: %s", snap.Symbol)
	}
	if snap.LivePrice != 3.5 {
		t.Fatalf("应优先取实时价, got %.2f", snap.LivePrice)
	}
	if len(snap.Candles("1h")) != 2 {
		t.Fatalf("1h 序列缺失")
	}
}

func TestCompositeProviderLivePriceFallback(t *testing.T) {
	src := &fakeSource{history: map[string][]Candle{"5m": series(1, 2, 3)}}
	p, _ := NewCompositeProvider(src, fakeLive{}, ProviderConfig{Intervals: []string{"5m"}})
	snap, err := p.Fetch(context.Background(), "ETHUSDT", time.Time{})
	if err != nil {
		t.Fatalf("Fetch 失败: %v", err)
	}
	if snap.LivePrice != 3 {
		t.Fatalf("实时价缺失时应回退到收盘价, got %.2f", snap.LivePrice)
	}
	if snap.Timestamp.IsZero() {
		t.Fatalf("时间戳不应为零值")
	}
}

func TestCompositeProviderUnavailable(t *testing.T) {
	src := &fakeSource{err: errors.New("rest 超时")}
	p, _ := NewCompositeProvider(src, nil, ProviderConfig{Intervals: []string{"5m"}})
	_, err := p.Fetch(context.Background(), "BTCUSDT", time.Now())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("无缓存且拉取失败应返回 ErrDataUnavailable, got %v", err)
	}
}

func TestCompositeProviderCacheFallback(t *testing.T) {
	cache := &memCache{}
	src := &fakeSource{history: map[string][]Candle{"5m": series(1, 2, 3)}}
	p, _ := NewCompositeProvider(src, nil, ProviderConfig{Intervals: []string{"5m"}})
	p.WithCache(cache)

	if _, err := p.Fetch(context.Background(), "BTCUSDT", time.Now()); err != nil {
		t.Fatalf("首次拉取失败: %v", err)
	}

	// 断网后应使用缓存序列继续出快照。
	src.err = errors.New("connection reset")
	snap, err := p.Fetch(context.Background(), "BTCUSDT", time.Now())
	if err != nil {
		t.Fatalf("有缓存时不应失败: %v", err)
	}
	if got := snap.Candles("5m"); len(got) != 3 || got[2].Close != 3 {
		t.Fatalf("缓存序列不完整: %+v", got)
	}
	if snap.LivePrice != 3 {
		t.Fatalf("缓存回退的实时价应取收盘价, got %.2f", snap.LivePrice)
	}
}
