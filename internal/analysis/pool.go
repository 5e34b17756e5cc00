package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tradeloop/internal/logger"
	"tradeloop/internal/market"
)

// ErrRequiredTask 必选任务失败或超时。
var ErrRequiredTask = errors.New("required analysis task failed")

const defaultTaskTimeout = 10 * time.Second

// Pool 并行执行一组分析任务。任务之间互不依赖，各自带独立超时。
type Pool struct {
	tasks []Task
}

func NewPool(tasks ...Task) *Pool {
	return &Pool{tasks: tasks}
}

// Tasks 返回注册的任务列表（只读）。
func (p *Pool) Tasks() []Task {
	if p == nil {
		return nil
	}
	return p.tasks
}

// Run 并行执行全部任务并收集成功输出。
// 可选任务失败只记日志并从结果中剔除；必选任务失败返回包装了
// ErrRequiredTask 的错误，调用方据此将该标的降级为观望。
func (p *Pool) Run(ctx context.Context, snap market.Snapshot, prior PriorContext) (map[string]Output, error) {
	if p == nil || len(p.tasks) == 0 {
		return nil, fmt.Errorf("%w: 任务池为空", ErrRequiredTask)
	}

	var (
		mu      sync.Mutex
		outputs = make(map[string]Output, len(p.tasks))
	)

	// 注意：不用 errgroup.WithContext——可选任务失败不应取消兄弟任务，
	// 必选任务失败也要等其余任务跑完再统一返回。
	var g errgroup.Group
	for _, task := range p.tasks {
		task := task
		g.Go(func() error {
			meta := task.Meta()
			timeout := meta.Timeout
			if timeout <= 0 {
				timeout = defaultTaskTimeout
			}
			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			out, err := task.Analyze(taskCtx, snap, prior)
			if err != nil {
				if meta.Required {
					return fmt.Errorf("%w: %s/%s: %v", ErrRequiredTask, snap.Symbol, meta.ID, err)
				}
				logger.Warnf("分析任务跳过: %s/%s: %v", snap.Symbol, meta.ID, err)
				return nil
			}
			out.TaskID = meta.ID
			out.Symbol = snap.Symbol
			if out.Timestamp.IsZero() {
				out.Timestamp = snap.Timestamp
			}
			if out.Confidence < 0 {
				out.Confidence = 0
			} else if out.Confidence > 1 {
				out.Confidence = 1
			}
			mu.Lock()
			outputs[meta.ID] = out
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}
