package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cdpwatch/internal/ctxkeys"
	"cdpwatch/internal/logger"
	"cdpwatch/internal/metrics"
	"cdpwatch/internal/rules"
	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/model"
	"cdpwatch/pkg/rulespec"
)

var (
	// ErrInvalidRule 规则未经 rulespec.New 构造
	ErrInvalidRule = errors.New("handler: invalid match rule")
	// ErrNilCallback 回调为空
	ErrNilCallback = errors.New("handler: nil callback")
)

// Callback 响应回调，matched 表示状态码是否与规则一致
//
// matched 为 false 是正常调用，不是错误路径。
type Callback interface {
	HandleResponse(ctx context.Context, page browser.Page, resp browser.Response, matched bool) error
}

// CallbackFunc 函数形式的 Callback
type CallbackFunc func(ctx context.Context, page browser.Page, resp browser.Response, matched bool) error

func (f CallbackFunc) HandleResponse(ctx context.Context, page browser.Page, resp browser.Response, matched bool) error {
	return f(ctx, page, resp, matched)
}

// Subscription 一条 (规则, 回调) 登记项，默认存活到会话结束
type Subscription struct {
	id      model.SubscriptionID
	rule    rulespec.MatchRule
	cb      Callback
	owner   *Handler
	hits    atomic.Int64
	removed atomic.Bool
}

func (s *Subscription) ID() model.SubscriptionID { return s.id }
func (s *Subscription) Rule() rulespec.MatchRule { return s.rule }

// Hits 回调被调用的次数
func (s *Subscription) Hits() int64 { return s.hits.Load() }

// Dispose 提前注销订阅，重复调用无副作用
func (s *Subscription) Dispose() bool {
	if !s.removed.CompareAndSwap(false, true) {
		return false
	}
	return s.owner.remove(s.id)
}

// Config 配置选项
type Config struct {
	Session model.SessionID
	Page    browser.Page
	Events  chan model.ResponseEvent
	Metrics *metrics.Collector
	Logger  logger.Logger
}

// Handler 响应订阅引擎：持有一个会话上的订阅列表，对每个响应事件逐项匹配并分发
type Handler struct {
	session model.SessionID
	page    browser.Page
	events  chan model.ResponseEvent
	metrics *metrics.Collector
	log     logger.Logger

	mu   sync.RWMutex
	subs []*Subscription

	total      atomic.Int64
	dispatched atomic.Int64
	matched    atomic.Int64
}

// New 创建订阅引擎
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Handler{
		session: cfg.Session,
		page:    cfg.Page,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		log:     l,
	}
}

// Subscribe 登记一条订阅，可多次调用，各订阅相互独立
func (h *Handler) Subscribe(rule rulespec.MatchRule, cb Callback) (*Subscription, error) {
	if !rule.Valid() {
		return nil, ErrInvalidRule
	}
	if cb == nil {
		return nil, ErrNilCallback
	}
	s := &Subscription{
		id:    model.SubscriptionID(uuid.NewString()),
		rule:  rule,
		cb:    cb,
		owner: h,
	}
	h.mu.Lock()
	h.subs = append(h.subs, s)
	h.mu.Unlock()
	h.log.Info("登记响应订阅", "subscription", string(s.id), "rule", rule.String())
	return s, nil
}

// Unsubscribe 按 ID 注销
func (h *Handler) Unsubscribe(id model.SubscriptionID) bool {
	h.mu.RLock()
	var target *Subscription
	for _, s := range h.subs {
		if s.id == id {
			target = s
			break
		}
	}
	h.mu.RUnlock()
	if target == nil {
		return false
	}
	return target.Dispose()
}

func (h *Handler) remove(id model.SubscriptionID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			h.log.Info("注销响应订阅", "subscription", string(id))
			return true
		}
	}
	return false
}

// Subscriptions 当前订阅快照
func (h *Handler) Subscriptions() []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Subscription(nil), h.subs...)
}

// Len 当前订阅数量
func (h *Handler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dispatch 将一个响应事件分发给所有命中的订阅
//
// URL 或 content-type 未命中的订阅静默跳过；命中的订阅各自在独立 goroutine 中
// 等待完整响应头、复核 content-type 并调用回调恰好一次。返回值汇总了取头失败与
// 回调失败，引擎本身不吞掉也不恢复这些错误。
func (h *Handler) Dispatch(ctx context.Context, resp browser.Response) error {
	ctx, traceID := ctxkeys.WithTraceID(ctx)
	ctx = ctxkeys.WithSessionID(ctx, string(h.session))
	h.total.Add(1)
	h.metrics.Observed()

	subs := h.Subscriptions()
	d := rules.Descriptor{
		URL:         resp.URL(),
		StatusCode:  resp.Status(),
		ContentType: resp.Headers().ContentType(),
	}

	errs := make([]error, len(subs))
	var g errgroup.Group
	for i, s := range subs {
		if !rules.Gate(d, s.rule) {
			continue
		}
		i, s := i, s
		g.Go(func() error {
			errs[i] = h.deliver(ctx, s, resp)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		h.log.Err(err, "响应分发失败", "traceId", traceID, "url", d.URL)
		return err
	}
	return nil
}

// deliver 对单个订阅完成取头、复核与回调
func (h *Handler) deliver(ctx context.Context, s *Subscription, resp browser.Response) error {
	start := time.Now()
	ctx = ctxkeys.WithSubscriptionID(ctx, string(s.id))
	hdrs, err := resp.AllHeaders(ctx)
	if err != nil {
		h.metrics.Failed(s.rule.Name())
		return fmt.Errorf("subscription %s: fetch headers: %w", s.id, err)
	}
	if hdrs.ContentType() != s.rule.ContentType() {
		h.log.Debug("完整响应头 content-type 不匹配，跳过",
			"subscription", string(s.id), "contentType", hdrs.ContentType())
		return nil
	}

	matched := rules.StatusMatched(resp.Status(), s.rule)
	s.hits.Add(1)
	h.dispatched.Add(1)
	if matched {
		h.matched.Add(1)
	}
	h.metrics.Dispatched(s.rule.Name(), matched)
	h.sendEvent(model.ResponseEvent{
		Session:      h.session,
		Subscription: s.id,
		Rule:         s.rule.Name(),
		URL:          resp.URL(),
		StatusCode:   resp.Status(),
		ContentType:  hdrs.ContentType(),
		Matched:      matched,
	})

	if err := s.cb.HandleResponse(ctx, h.page, resp, matched); err != nil {
		h.metrics.Failed(s.rule.Name())
		return fmt.Errorf("subscription %s: callback: %w", s.id, err)
	}
	h.log.Debug("回调完成", "subscription", string(s.id), "matched", matched,
		"traceId", ctxkeys.TraceID(ctx), "duration", time.Since(start))
	return nil
}

// sendEvent 非阻塞发送事件，通道满时丢弃
func (h *Handler) sendEvent(evt model.ResponseEvent) {
	if h.events == nil {
		return
	}
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case h.events <- evt:
	default:
	}
}

// Stats 统计信息
func (h *Handler) Stats() model.EngineStats {
	st := model.EngineStats{
		Total:      h.total.Load(),
		Dispatched: h.dispatched.Load(),
		Matched:    h.matched.Load(),
		ByRule:     make(map[model.SubscriptionID]int64),
	}
	for _, s := range h.Subscriptions() {
		st.ByRule[s.id] = s.Hits()
	}
	return st
}
