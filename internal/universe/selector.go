package universe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"tradeloop/internal/logger"
)

// 中文说明：
// 标的选择器在每个循环开始时提供本轮要分析的交易对列表。
// 刷新失败不是致命错误：沿用上一份可用列表继续跑循环。

// SymbolProvider 标的来源。
type SymbolProvider interface {
	List(ctx context.Context) ([]string, error)
	Name() string
}

// NormalizeSymbols 去空白、转大写、补 USDT 后缀并保序去重。
func NormalizeSymbols(symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, errors.New("symbol list is empty")
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasSuffix(s, "USDT") {
			s += "USDT"
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("symbol list is empty after normalization")
	}
	return out, nil
}

// StaticProvider 配置文件里的固定列表。
type StaticProvider struct{ symbols []string }

func NewStaticProvider(symbols []string) *StaticProvider {
	return &StaticProvider{symbols: symbols}
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) List(_ context.Context) ([]string, error) {
	return NormalizeSymbols(p.symbols)
}

// HTTPProvider 从外部接口拉取列表，兼容裸数组与 {"symbols": []} 两种响应。
type HTTPProvider struct {
	URL    string
	Client *http.Client
}

func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) List(ctx context.Context) ([]string, error) {
	if p.URL == "" {
		return nil, errors.New("symbol API URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching symbols: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("HTTP status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var arr []string
	if err := json.Unmarshal(body, &arr); err == nil {
		return NormalizeSymbols(arr)
	}
	var obj struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return NormalizeSymbols(obj.Symbols)
}

// Selector 带缓存的标的选择器。每循环调用 Refresh：
// 上游成功则更新列表，失败则沿用旧列表（从不返回空）。
type Selector struct {
	provider SymbolProvider
	fallback []string
	maxAge   time.Duration

	mu          sync.RWMutex
	current     []string
	lastFetched time.Time
	lastErr     error
}

func NewSelector(provider SymbolProvider, fallback []string, maxAge time.Duration) *Selector {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	normalized, err := NormalizeSymbols(fallback)
	if err != nil {
		normalized = nil
	}
	return &Selector{
		provider: provider,
		fallback: normalized,
		maxAge:   maxAge,
		current:  normalized,
	}
}

// Refresh 刷新列表并返回当前可用的一份。缓存未过期直接返回。
func (s *Selector) Refresh(ctx context.Context) []string {
	s.mu.RLock()
	fresh := !s.lastFetched.IsZero() && time.Since(s.lastFetched) < s.maxAge
	s.mu.RUnlock()
	if fresh || s.provider == nil {
		return s.Current()
	}

	symbols, err := s.provider.List(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || len(symbols) == 0 {
		s.lastErr = err
		logger.Warnf("标的刷新失败（沿用旧列表 %d 个）: %v", len(s.current), err)
		return cloneSymbols(s.current)
	}
	sort.Strings(symbols)
	s.current = symbols
	s.lastFetched = time.Now()
	s.lastErr = nil
	logger.Infof("标的列表更新: %d 个 via %s", len(symbols), s.provider.Name())
	return cloneSymbols(s.current)
}

// Current 返回当前列表的拷贝。
func (s *Selector) Current() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSymbols(s.current)
}

// LastError 最近一次刷新错误（仅供状态展示）。
func (s *Selector) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func cloneSymbols(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
