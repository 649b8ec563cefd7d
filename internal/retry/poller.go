package retry

import (
	"context"
	"time"

	"cdpwatch/internal/logger"
	"cdpwatch/internal/metrics"
	"cdpwatch/pkg/browser"
)

const (
	DefaultMaxAttempts = 5
	DefaultInterval    = 3000 * time.Millisecond
)

// Querier 轮询所需的页面能力
type Querier interface {
	Locator(ctx context.Context, selector string) (browser.ElementSet, error)
	WaitForTimeout(ctx context.Context, d time.Duration) error
}

// Poller 固定间隔的选择器轮询器
//
// 总尝试次数为 MaxAttempts+1（首次加重试），不做指数退避。
type Poller struct {
	MaxAttempts int
	Interval    time.Duration
	Metrics     *metrics.Collector
	Logger      logger.Logger
}

// NewPoller 使用默认参数创建轮询器
func NewPoller() *Poller {
	return &Poller{MaxAttempts: DefaultMaxAttempts, Interval: DefaultInterval}
}

// Resolve 反复查询选择器直到得到非空集合或次数耗尽
func (p *Poller) Resolve(ctx context.Context, q Querier, selector string) (browser.ElementSet, error) {
	maxAttempts := max(p.MaxAttempts, 0)
	interval := max(p.Interval, 0)
	log := p.Logger
	if log == nil {
		log = logger.NewNop()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		set, err := q.Locator(ctx, selector)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			lastErr = err
			log.Debug("选择器查询失败", "selector", selector, "attempt", attempt+1, "error", err)
		case set != nil && set.Count() > 0:
			p.Metrics.Attempts(attempt+1, true)
			return set, nil
		}

		if attempt >= maxAttempts {
			p.Metrics.Attempts(attempt+1, false)
			log.Warn("选择器重试耗尽", "selector", selector, "attempts", attempt+1)
			return nil, &browser.NotFoundError{Selector: selector, Attempts: attempt + 1, Err: lastErr}
		}
		if err := q.WaitForTimeout(ctx, interval); err != nil {
			return nil, err
		}
	}
}
