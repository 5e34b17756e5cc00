package analysis

import (
	"context"
	"time"

	"tradeloop/internal/market"
)

// SemanticTask 语义判断任务（可选）。
// 把行情快照交给外部模型做一次方向判断，失败或超时由任务池
// 按可选任务剔除，不影响其余任务。
type SemanticTask struct {
	stancer SnapshotStancer
	timeout time.Duration
}

func NewSemanticTask(stancer SnapshotStancer, timeout time.Duration) *SemanticTask {
	return &SemanticTask{stancer: stancer, timeout: timeout}
}

func (s *SemanticTask) Meta() TaskMeta {
	return TaskMeta{ID: "semantic", Required: false, Timeout: s.timeout}
}

func (s *SemanticTask) Analyze(ctx context.Context, snap market.Snapshot, _ PriorContext) (Output, error) {
	res, err := s.stancer.StanceOf(ctx, snap)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Stance:     res.Stance,
		Confidence: res.Confidence,
		Rationale:  res.Rationale,
	}, nil
}
