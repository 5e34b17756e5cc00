package decision

import (
	"context"
	"strings"
	"time"

	"tradeloop/internal/analysis"
	"tradeloop/internal/logger"
)

// 中文说明：
// 路由器按固定优先级依次评估分支，首个产出决策的分支短路后续分支：
//   forced_exit > fast_trend > llm > decision_core
// 前三个分支都可能弃权；decision_core 是兜底规则，永远给出决策，
// 因此每个标的每循环必然恰好产出一个决策。

// RouteContext 单标的单循环的路由输入。
type RouteContext struct {
	Symbol    string
	Summary   analysis.ConsensusSummary
	Position  *PositionView // nil 表示无持仓
	LivePrice float64
	Prior     analysis.PriorContext
}

// RouterConfig 路由分支阈值。
type RouterConfig struct {
	// ForcedExitLossPct 持仓亏损占保证金的百分比达到该值强制平仓（如 50 表示 50%）。
	ForcedExitLossPct float64
	// MaxHoldDuration 持仓超过该时长强制平仓，0 表示不限。
	MaxHoldDuration time.Duration
	// FastTrendMomentum 快趋势分支要求的短周期动量绝对值下限。
	FastTrendMomentum float64
	// FastTrendAgreement 快趋势开仓要求的共识一致度下限。
	FastTrendAgreement float64
	// LLMTimeout 语义分支单次调用超时。
	LLMTimeout time.Duration
	// MinOpenConfidence 低于该置信度的开仓决策退化为观望。
	MinOpenConfidence float64
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.ForcedExitLossPct <= 0 {
		c.ForcedExitLossPct = 50
	}
	if c.FastTrendMomentum <= 0 {
		c.FastTrendMomentum = 50
	}
	if c.FastTrendAgreement <= 0 {
		c.FastTrendAgreement = 0.7
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 30 * time.Second
	}
	if c.MinOpenConfidence <= 0 {
		c.MinOpenConfidence = 0.3
	}
	return c
}

type branch struct {
	name string
	eval func(ctx context.Context, rc RouteContext) (Decision, bool)
}

// Router 严格优先级决策路由。
type Router struct {
	cfg      RouterConfig
	provider analysis.StanceProvider // 可为 nil，llm 分支直接弃权
	branches []branch
}

func NewRouter(cfg RouterConfig, provider analysis.StanceProvider) *Router {
	r := &Router{cfg: cfg.withDefaults(), provider: provider}
	r.branches = []branch{
		{name: SourceForcedExit, eval: r.evalForcedExit},
		{name: SourceFastTrend, eval: r.evalFastTrend},
		{name: SourceLLM, eval: r.evalLLM},
		{name: SourceDecisionCore, eval: r.evalCore},
	}
	return r
}

// Route 产出该标的本循环的唯一决策。
func (r *Router) Route(ctx context.Context, rc RouteContext) Decision {
	for _, b := range r.branches {
		if d, ok := b.eval(ctx, rc); ok {
			d.Symbol = rc.Symbol
			d.Source = b.name
			if d.DecidedAt.IsZero() {
				d.DecidedAt = time.Now()
			}
			if d.Action.IsOpen() && d.Confidence < r.cfg.MinOpenConfidence {
				logger.Infof("开仓置信度不足退化为观望: %s %s conf=%.2f", rc.Symbol, d.Action, d.Confidence)
				d = Decision{
					Symbol:     rc.Symbol,
					Action:     ActionWait,
					Confidence: d.Confidence,
					Source:     b.name,
					Reasoning:  "开仓置信度低于下限: " + d.Reasoning,
					DecidedAt:  d.DecidedAt,
				}
			}
			return d
		}
	}
	// 不可达：decision_core 永远接管。
	return Decision{Symbol: rc.Symbol, Action: ActionWait, Source: SourceDecisionCore, DecidedAt: time.Now()}
}

// evalForcedExit 持仓亏损越过红线时无条件平仓，不看任何共识。
func (r *Router) evalForcedExit(_ context.Context, rc RouteContext) (Decision, bool) {
	if rc.Position == nil {
		return Decision{}, false
	}
	if r.cfg.MaxHoldDuration > 0 && !rc.Position.OpenedAt.IsZero() &&
		time.Since(rc.Position.OpenedAt) >= r.cfg.MaxHoldDuration {
		return Decision{
			Action:     CloseFor(rc.Position.Side),
			Confidence: 1.0,
			Reasoning:  "持仓超过最长持有时长",
		}, true
	}
	loss := rc.Position.LossPct()
	if loss < r.cfg.ForcedExitLossPct {
		return Decision{}, false
	}
	return Decision{
		Action:     CloseFor(rc.Position.Side),
		Confidence: 1.0,
		Reasoning:  "亏损触达强平红线",
	}, true
}

// evalFastTrend 短周期动量极端时跳过语义分支直接行动。
func (r *Router) evalFastTrend(_ context.Context, rc RouteContext) (Decision, bool) {
	m := rc.Summary.Momentum
	abs := m
	if abs < 0 {
		abs = -abs
	}
	if abs < r.cfg.FastTrendMomentum {
		return Decision{}, false
	}

	// 持仓被反向急拉：立即离场。
	if rc.Position != nil {
		against := (rc.Position.Side == "long" && m < 0) || (rc.Position.Side == "short" && m > 0)
		if against {
			return Decision{
				Action:     CloseFor(rc.Position.Side),
				Confidence: abs / 60,
				Reasoning:  "短周期动量急转，快速离场",
			}, true
		}
		return Decision{}, false
	}

	// 空仓追势：要求共识同向且一致度达标。
	if rc.Summary.Agreement < r.cfg.FastTrendAgreement {
		return Decision{}, false
	}
	if m > 0 && rc.Summary.Lean == analysis.StanceLong {
		return Decision{Action: ActionOpenLong, Confidence: rc.Summary.Agreement, Reasoning: "快趋势顺势做多"}, true
	}
	if m < 0 && rc.Summary.Lean == analysis.StanceShort {
		return Decision{Action: ActionOpenShort, Confidence: rc.Summary.Agreement, Reasoning: "快趋势顺势做空"}, true
	}
	return Decision{}, false
}

// evalLLM 语义分支。模型不可用、超时、输出无法解析都按弃权处理，
// 落给 decision_core 兜底。
func (r *Router) evalLLM(ctx context.Context, rc RouteContext) (Decision, bool) {
	if r.provider == nil {
		return Decision{}, false
	}
	llmCtx, cancel := context.WithTimeout(ctx, r.cfg.LLMTimeout)
	defer cancel()

	extra := ""
	if rc.Position != nil {
		extra = "当前持仓方向: " + rc.Position.Side
	}
	res, err := r.provider.Evaluate(llmCtx, rc.Symbol, rc.Summary, extra)
	if err != nil {
		logger.Warnf("语义分支弃权: %s: %v", rc.Symbol, err)
		return Decision{}, false
	}

	action := actionFromStance(res.Stance, rc.Position)
	if raw := strings.TrimSpace(res.Action); raw != "" {
		side := ""
		if rc.Position != nil {
			side = rc.Position.Side
		}
		norm, err := NormalizeAction(raw, side)
		if err != nil {
			logger.Warnf("语义分支动作无法识别弃权: %s %q: %v", rc.Symbol, raw, err)
			return Decision{}, false
		}
		action = norm
	}
	// 置信度不够开仓时整个分支弃权，让兜底规则基于共识重新判断，
	// 而不是以 llm 名义产出一条观望。
	if action.IsOpen() && res.Confidence < r.cfg.MinOpenConfidence {
		logger.Infof("语义分支置信度不足弃权: %s %s conf=%.2f", rc.Symbol, action, res.Confidence)
		return Decision{}, false
	}
	return Decision{
		Action:     action,
		Confidence: res.Confidence,
		Reasoning:  res.Rationale,
	}, true
}

// evalCore 规则兜底，永远返回 true。
func (r *Router) evalCore(_ context.Context, rc RouteContext) (Decision, bool) {
	return coreDecision(rc), true
}

// actionFromStance 把方向判断换算成相对当前持仓的动作。
func actionFromStance(st analysis.Stance, pos *PositionView) Action {
	switch st {
	case analysis.StanceLong:
		if pos == nil {
			return ActionOpenLong
		}
		if pos.Side == "short" {
			return ActionCloseShort
		}
		return ActionHold
	case analysis.StanceShort:
		if pos == nil {
			return ActionOpenShort
		}
		if pos.Side == "long" {
			return ActionCloseLong
		}
		return ActionHold
	default:
		if pos != nil {
			return ActionHold
		}
		return ActionWait
	}
}
