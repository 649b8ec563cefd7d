package session

import (
	"sync/atomic"

	"cdpwatch/internal/handler"
	"cdpwatch/internal/logger"
	"cdpwatch/internal/metrics"
	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/model"
)

// eventBuffer 事件通道容量，消费不及时的事件直接丢弃
const eventBuffer = 256

// Session 一个浏览器会话及其订阅引擎
type Session struct {
	id      model.SessionID
	browser browser.Session
	handler *handler.Handler
	events  chan model.ResponseEvent
	detach  func()
	closed  atomic.Bool
	log     logger.Logger
}

// New 绑定浏览器会话并把页面响应接入订阅引擎
func New(id model.SessionID, bs browser.Session, m *metrics.Collector, l logger.Logger) *Session {
	if l == nil {
		l = logger.NewNop()
	}
	l = l.With("sessionID", string(id))
	events := make(chan model.ResponseEvent, eventBuffer)
	h := handler.New(handler.Config{
		Session: id,
		Page:    bs.Page(),
		Events:  events,
		Metrics: m,
		Logger:  l,
	})
	s := &Session{
		id:      id,
		browser: bs,
		handler: h,
		events:  events,
		log:     l,
	}
	s.detach = bs.Page().OnResponse(h.Dispatch)
	return s
}

func (s *Session) ID() model.SessionID               { return s.id }
func (s *Session) Page() browser.Page                { return s.browser.Page() }
func (s *Session) Handler() *handler.Handler         { return s.handler }
func (s *Session) Events() <-chan model.ResponseEvent { return s.events }

// Info 会话概要
func (s *Session) Info() model.SessionInfo {
	return model.SessionInfo{
		ID:            s.id,
		DevToolsURL:   s.browser.DevToolsURL(),
		Subscriptions: s.handler.Len(),
	}
}

// Close 解除响应监听并关闭浏览器，重复调用返回 browser.ErrClosed
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return browser.ErrClosed
	}
	s.detach()
	err := s.browser.Close()
	if err != nil {
		s.log.Err(err, "关闭浏览器失败")
	}
	return err
}
