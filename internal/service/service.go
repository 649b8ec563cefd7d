package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cdpwatch/internal/handler"
	"cdpwatch/internal/logger"
	"cdpwatch/internal/metrics"
	"cdpwatch/internal/retry"
	"cdpwatch/internal/session"
	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/grpcweb"
	"cdpwatch/pkg/model"
	"cdpwatch/pkg/rulespec"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// ResponseCallback 订阅回调
type ResponseCallback func(ctx context.Context, page browser.Page, resp browser.Response, matched bool) error

// GrpcResponseCallback 附带 gRPC-Web 解码结果的订阅回调
type GrpcResponseCallback func(ctx context.Context, page browser.Page, resp browser.Response, matched bool, decoded grpcweb.Decoded) error

// Config 服务依赖
type Config struct {
	Launcher    browser.Launcher
	Metrics     *metrics.Collector
	Logger      logger.Logger
	MaxAttempts int
	Interval    time.Duration
}

// Service 会话、订阅与轮询的统一入口
type Service struct {
	launcher browser.Launcher
	sessions *session.Manager
	metrics  *metrics.Collector
	poller   *retry.Poller
	log      logger.Logger

	// 订阅 ID 到会话的索引，供 Unwatch 定位
	mu   sync.Mutex
	subs map[model.SubscriptionID]*handler.Subscription
}

// New 创建服务
func New(cfg Config) *Service {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{
		launcher: cfg.Launcher,
		sessions: session.NewManager(l),
		metrics:  cfg.Metrics,
		poller: &retry.Poller{
			MaxAttempts: cfg.MaxAttempts,
			Interval:    cfg.Interval,
			Metrics:     cfg.Metrics,
			Logger:      l,
		},
		log:  l,
		subs: make(map[model.SubscriptionID]*handler.Subscription),
	}
}

// StartSession 启动浏览器并创建会话
func (s *Service) StartSession(ctx context.Context, opts browser.LaunchOptions) (model.SessionID, error) {
	if s.launcher == nil {
		return "", fmt.Errorf("%w: no launcher configured", browser.ErrLaunch)
	}
	bs, err := s.launcher.Launch(ctx, opts)
	if err != nil {
		return "", err
	}
	id := model.SessionID(uuid.NewString())
	s.sessions.Add(session.New(id, bs, s.metrics, s.log))
	return id, nil
}

// StopSession 停止会话并关闭浏览器
func (s *Service) StopSession(id model.SessionID) error {
	sess, ok := s.sessions.Delete(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.forget(sess)
	return sess.Close()
}

// forget 清理会话下的订阅索引
func (s *Service) forget(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range sess.Handler().Subscriptions() {
		delete(s.subs, sub.ID())
	}
}

// Close 停止全部会话
func (s *Service) Close() error {
	var errs []error
	for _, sess := range s.sessions.List() {
		if err := s.StopSession(sess.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) get(id model.SessionID) (*session.Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Navigate 打开地址
func (s *Service) Navigate(ctx context.Context, id model.SessionID, url string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.Page().Navigate(ctx, url)
}

// WatchResponse 在会话上登记响应订阅
func (s *Service) WatchResponse(id model.SessionID, rule rulespec.MatchRule, cb ResponseCallback) (model.SubscriptionID, error) {
	if cb == nil {
		return "", handler.ErrNilCallback
	}
	return s.subscribe(id, rule, handler.CallbackFunc(cb))
}

// WatchGrpcWeb 登记订阅，回调前读取响应体并解码 gRPC-Web trailer
func (s *Service) WatchGrpcWeb(id model.SessionID, rule rulespec.MatchRule, cb GrpcResponseCallback) (model.SubscriptionID, error) {
	if cb == nil {
		return "", handler.ErrNilCallback
	}
	return s.subscribe(id, rule.WithDecode(rulespec.DecodeGrpcWeb), handler.DecodeGrpcWeb(handler.GrpcCallbackFunc(cb), s.metrics))
}

func (s *Service) subscribe(id model.SessionID, rule rulespec.MatchRule, cb handler.Callback) (model.SubscriptionID, error) {
	sess, err := s.get(id)
	if err != nil {
		return "", err
	}
	sub, err := sess.Handler().Subscribe(rule, cb)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.subs[sub.ID()] = sub
	s.mu.Unlock()
	return sub.ID(), nil
}

// Unwatch 注销订阅
func (s *Service) Unwatch(sub model.SubscriptionID) error {
	s.mu.Lock()
	h, ok := s.subs[sub]
	delete(s.subs, sub)
	s.mu.Unlock()
	if !ok || !h.Dispose() {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, sub)
	}
	return nil
}

// ResolveWithRetry 以固定间隔轮询选择器
func (s *Service) ResolveWithRetry(ctx context.Context, id model.SessionID, selector string) (browser.ElementSet, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return s.poller.Resolve(ctx, sess.Page(), selector)
}

// Stats 会话的分发统计
func (s *Service) Stats(id model.SessionID) (model.EngineStats, error) {
	sess, err := s.get(id)
	if err != nil {
		return model.EngineStats{}, err
	}
	return sess.Handler().Stats(), nil
}

// Events 会话的分发事件流
func (s *Service) Events(id model.SessionID) (<-chan model.ResponseEvent, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.Events(), nil
}

// ListSessions 活动会话概要
func (s *Service) ListSessions() []model.SessionInfo {
	list := s.sessions.List()
	out := make([]model.SessionInfo, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.Info())
	}
	return out
}
