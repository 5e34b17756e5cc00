package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tradeloop/internal/analysis"
	"tradeloop/internal/market"
)

const stanceSystemPrompt = `你是一名加密货币合约交易分析师。
只输出一个 JSON 对象，不要输出任何其他文字：
{"stance": "long|short|neutral", "action": "open_long|open_short|close|hold|wait", "confidence": 0-100, "reason": "一句话理由"}`

// StanceClient 把 ModelProvider 适配成方向判断服务，
// 同时服务于分析任务（看快照）与路由语义分支（看共识摘要）。
type StanceClient struct {
	Provider  ModelProvider
	MaxTokens int
}

func NewStanceClient(p ModelProvider) *StanceClient {
	return &StanceClient{Provider: p}
}

var _ analysis.SnapshotStancer = (*StanceClient)(nil)
var _ analysis.StanceProvider = (*StanceClient)(nil)

// StanceOf 基于行情快照做方向判断。
func (s *StanceClient) StanceOf(ctx context.Context, snap market.Snapshot) (analysis.StanceResult, error) {
	if s == nil || s.Provider == nil || !s.Provider.Enabled() {
		return analysis.StanceResult{}, fmt.Errorf("模型提供方不可用")
	}
	raw, err := s.Provider.Call(ctx, ChatPayload{
		System:    stanceSystemPrompt,
		User:      snapshotPrompt(snap),
		MaxTokens: s.maxTokens(),
	})
	if err != nil {
		return analysis.StanceResult{}, err
	}
	return toStanceResult(raw)
}

// Evaluate 基于共识摘要做方向判断（路由 llm 分支）。
func (s *StanceClient) Evaluate(ctx context.Context, symbol string, summary analysis.ConsensusSummary, extra string) (analysis.StanceResult, error) {
	if s == nil || s.Provider == nil || !s.Provider.Enabled() {
		return analysis.StanceResult{}, fmt.Errorf("模型提供方不可用")
	}
	raw, err := s.Provider.Call(ctx, ChatPayload{
		System:    stanceSystemPrompt,
		User:      summaryPrompt(symbol, summary, extra),
		MaxTokens: s.maxTokens(),
	})
	if err != nil {
		return analysis.StanceResult{}, err
	}
	return toStanceResult(raw)
}

func (s *StanceClient) maxTokens() int {
	if s.MaxTokens > 0 {
		return s.MaxTokens
	}
	return 512
}

func toStanceResult(raw string) (analysis.StanceResult, error) {
	r, err := parseStanceReply(raw)
	if err != nil {
		return analysis.StanceResult{}, err
	}
	st := analysis.StanceNeutral
	switch r.Stance {
	case "long", "bullish", "buy":
		st = analysis.StanceLong
	case "short", "bearish", "sell":
		st = analysis.StanceShort
	}
	return analysis.StanceResult{Stance: st, Action: r.Action, Confidence: r.Confidence, Rationale: r.Reason}, nil
}

// snapshotPrompt 把快照压缩成紧凑的文字描述，控制 token 消耗。
func snapshotPrompt(snap market.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "标的: %s 现价: %.6g\n", snap.Symbol, snap.LivePrice)

	intervals := make([]string, 0, len(snap.Series))
	for iv := range snap.Series {
		intervals = append(intervals, iv)
	}
	sort.Strings(intervals)
	for _, iv := range intervals {
		candles := snap.Series[iv]
		n := len(candles)
		if n == 0 {
			continue
		}
		tail := candles
		if n > 12 {
			tail = candles[n-12:]
		}
		fmt.Fprintf(&b, "%s 最近%d根收盘:", iv, len(tail))
		for _, c := range tail {
			fmt.Fprintf(&b, " %.6g", c.Close)
		}
		b.WriteByte('\n')
	}
	b.WriteString("基于以上数据给出方向判断。")
	return b.String()
}

func summaryPrompt(symbol string, summary analysis.ConsensusSummary, extra string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "标的: %s\n共识方向: %s 一致度: %.2f 综合分: %.1f 短周期动量: %.1f\n",
		symbol, summary.Lean, summary.Agreement, summary.Score, summary.Momentum)
	for _, id := range summary.TaskIDs() {
		out := summary.Outputs[id]
		fmt.Fprintf(&b, "- %s: %s conf=%.2f %s\n", id, out.Stance, out.Confidence, out.Rationale)
	}
	if strings.TrimSpace(extra) != "" {
		b.WriteString(extra)
		b.WriteByte('\n')
	}
	b.WriteString("综合以上分析给出最终方向判断。")
	return b.String()
}
