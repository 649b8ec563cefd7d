package api

import (
	"context"
	"time"

	"cdpwatch/internal/cdp"
	"cdpwatch/internal/logger"
	"cdpwatch/internal/metrics"
	"cdpwatch/internal/retry"
	"cdpwatch/internal/service"
	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/model"
	"cdpwatch/pkg/rulespec"
)

var (
	ErrSessionNotFound      = service.ErrSessionNotFound
	ErrSubscriptionNotFound = service.ErrSubscriptionNotFound
)

type (
	ResponseCallback     = service.ResponseCallback
	GrpcResponseCallback = service.GrpcResponseCallback
)

// Service 服务接口
type Service interface {
	// StartSession 启动会话
	StartSession(ctx context.Context, opts browser.LaunchOptions) (model.SessionID, error)

	// StopSession 停止会话
	StopSession(id model.SessionID) error

	// Navigate 导航到地址
	Navigate(ctx context.Context, id model.SessionID, url string) error

	// WatchResponse 订阅响应
	WatchResponse(id model.SessionID, rule rulespec.MatchRule, cb ResponseCallback) (model.SubscriptionID, error)

	// WatchGrpcWeb 订阅响应并解码 gRPC-Web 状态
	WatchGrpcWeb(id model.SessionID, rule rulespec.MatchRule, cb GrpcResponseCallback) (model.SubscriptionID, error)

	// Unwatch 取消订阅
	Unwatch(sub model.SubscriptionID) error

	// ResolveWithRetry 轮询选择器
	ResolveWithRetry(ctx context.Context, id model.SessionID, selector string) (browser.ElementSet, error)

	// Stats 获取分发统计
	Stats(id model.SessionID) (model.EngineStats, error)

	// Events 订阅分发事件
	Events(id model.SessionID) (<-chan model.ResponseEvent, error)

	// ListSessions 列出会话
	ListSessions() []model.SessionInfo

	// Close 停止全部会话
	Close() error
}

// Options 服务选项，零值字段使用默认值
type Options struct {
	Logger      logger.Logger
	Metrics     *metrics.Collector
	Launcher    browser.Launcher
	MaxAttempts *int
	Interval    *time.Duration
}

// NewService 创建并返回服务接口实现
func NewService(opts Options) Service {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = cdp.NewLauncher(l)
	}
	cfg := service.Config{
		Launcher:    launcher,
		Metrics:     opts.Metrics,
		Logger:      l,
		MaxAttempts: retry.DefaultMaxAttempts,
		Interval:    retry.DefaultInterval,
	}
	if opts.MaxAttempts != nil {
		cfg.MaxAttempts = *opts.MaxAttempts
	}
	if opts.Interval != nil {
		cfg.Interval = *opts.Interval
	}
	return service.New(cfg)
}
