// Package browsertest 提供不依赖真实浏览器的会话替身，用于测试。
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/traffic"
)

// Response 可编程的响应替身
type Response struct {
	RawURL     string
	StatusCode int
	// Partial 事件自带的响应头
	Partial traffic.Header
	// Full 完整响应头，为空时与 Partial 相同
	Full       traffic.Header
	BodyBytes  []byte
	HeadersErr error
	BodyErr    error

	headerCalls atomic.Int32
}

// NewResponse 创建带 content-type 的响应
func NewResponse(url string, status int, contentType string, body string) *Response {
	h := traffic.Header{}
	if contentType != "" {
		h.Set("content-type", contentType)
	}
	return &Response{RawURL: url, StatusCode: status, Partial: h, BodyBytes: []byte(body)}
}

func (r *Response) URL() string { return r.RawURL }
func (r *Response) Status() int { return r.StatusCode }
func (r *Response) Headers() traffic.Header {
	if r.Partial == nil {
		return traffic.Header{}
	}
	return r.Partial
}

func (r *Response) AllHeaders(ctx context.Context) (traffic.Header, error) {
	r.headerCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.HeadersErr != nil {
		return nil, r.HeadersErr
	}
	if r.Full != nil {
		return r.Full, nil
	}
	return r.Headers(), nil
}

// HeaderCalls AllHeaders 被调用的次数
func (r *Response) HeaderCalls() int { return int(r.headerCalls.Load()) }

func (r *Response) Body(ctx context.Context) ([]byte, error) {
	if r.BodyErr != nil {
		return nil, r.BodyErr
	}
	return r.BodyBytes, nil
}

func (r *Response) Text(ctx context.Context) (string, error) {
	b, err := r.Body(ctx)
	return string(b), err
}

// Element 元素替身
type Element struct {
	HTML string
}

func (e Element) OuterHTML(context.Context) (string, error) { return e.HTML, nil }

// ElementSet 元素集合替身
type ElementSet struct {
	Sel   string
	Items []Element
}

func (s *ElementSet) Selector() string { return s.Sel }
func (s *ElementSet) Count() int       { return len(s.Items) }
func (s *ElementSet) Nth(i int) browser.Element {
	if i < 0 || i >= len(s.Items) {
		return nil
	}
	return s.Items[i]
}

// LocateFunc 根据选择器和第几次查询（从 1 开始）返回命中数量
type LocateFunc func(selector string, call int) (int, error)

// Page 页面替身，监听器按注册顺序同步调用
type Page struct {
	PageTitle string
	Locate    LocateFunc

	mu        sync.Mutex
	listeners map[int]browser.ResponseListener
	nextID    int
	queries   map[string]int
	waits     []time.Duration
	visited   []string
}

// NewPage 创建页面替身
func NewPage() *Page {
	return &Page{
		listeners: make(map[int]browser.ResponseListener),
		queries:   make(map[string]int),
	}
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visited = append(p.visited, url)
	return nil
}

func (p *Page) Title(context.Context) (string, error) { return p.PageTitle, nil }

func (p *Page) Locator(ctx context.Context, selector string) (browser.ElementSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.queries[selector]++
	call := p.queries[selector]
	locate := p.Locate
	p.mu.Unlock()

	set := &ElementSet{Sel: selector}
	if locate == nil {
		return set, nil
	}
	n, err := locate(selector, call)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		set.Items = append(set.Items, Element{HTML: fmt.Sprintf("<div data-i=%d></div>", i)})
	}
	return set, nil
}

func (p *Page) WaitForTimeout(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.waits = append(p.waits, d)
	p.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Page) OnResponse(l browser.ResponseListener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Emit 把响应同步分发给所有监听器，返回合并后的错误
func (p *Page) Emit(ctx context.Context, resp browser.Response) error {
	p.mu.Lock()
	ls := make([]browser.ResponseListener, 0, len(p.listeners))
	for i := 0; i < p.nextID; i++ {
		if l, ok := p.listeners[i]; ok {
			ls = append(ls, l)
		}
	}
	p.mu.Unlock()

	var errs []error
	for _, l := range ls {
		if err := l(ctx, resp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Listeners 当前监听器数量
func (p *Page) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// Queries 某个选择器被查询的次数
func (p *Page) Queries(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries[selector]
}

// Waits 已记录的等待时长
func (p *Page) Waits() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.waits...)
}

// Visited 已导航的地址
func (p *Page) Visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

// Session 会话替身
type Session struct {
	P      *Page
	URL    string
	closed atomic.Bool
}

func (s *Session) Page() browser.Page  { return s.P }
func (s *Session) DevToolsURL() string { return s.URL }
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return browser.ErrClosed
	}
	return nil
}

// Closed 是否已关闭
func (s *Session) Closed() bool { return s.closed.Load() }

// Launcher 启动器替身
type Launcher struct {
	Err      error
	mu       sync.Mutex
	launched []*Session
	lastOpts browser.LaunchOptions
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastOpts = opts
	if l.Err != nil {
		return nil, &browser.LaunchError{Stage: "exec", Err: l.Err}
	}
	s := &Session{P: NewPage(), URL: fmt.Sprintf("http://127.0.0.1:%d", 9222+len(l.launched))}
	l.launched = append(l.launched, s)
	return s, nil
}

// Sessions 已启动的会话
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.launched...)
}

// LastOpts 最近一次启动参数
func (l *Launcher) LastOpts() browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastOpts
}
