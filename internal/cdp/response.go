package cdp

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/network"

	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/traffic"
)

// bodyEntry 单个请求的响应体与补充响应头就绪状态
type bodyEntry struct {
	done     chan struct{}
	err      error
	finished bool
	released bool

	extraReady chan struct{}
	extra      traffic.Header
	extraSet   bool
}

// wait 等待 loadingFinished 或 loadingFailed
func (e *bodyEntry) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return e.err
	}
}

// waitExtra 等待 responseReceivedExtraInfo，加载结束仍未收到时返回 nil
func (e *bodyEntry) waitExtra(ctx context.Context) (traffic.Header, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.extraReady:
		return e.extra, nil
	}
}

// setExtra 只生效一次，调用方持有 bodyTracker.mu
func (e *bodyEntry) setExtra(h traffic.Header) {
	if e.extraSet {
		return
	}
	e.extraSet = true
	e.extra = h
	close(e.extraReady)
}

// bodyTracker 跟踪响应体是否可读
//
// 条目在分发结束且加载结束后删除，二者顺序不定。extraInfo 可能早于
// responseReceived 到达，先存入 pending，建立条目时取走；加载结束时清理。
type bodyTracker struct {
	mu      sync.Mutex
	entries map[network.RequestID]*bodyEntry
	pending map[network.RequestID]traffic.Header
}

func newBodyTracker() *bodyTracker {
	return &bodyTracker{
		entries: make(map[network.RequestID]*bodyEntry),
		pending: make(map[network.RequestID]traffic.Header),
	}
}

func (t *bodyTracker) track(id network.RequestID) *bodyEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := &bodyEntry{done: make(chan struct{}), extraReady: make(chan struct{})}
	if h, ok := t.pending[id]; ok {
		delete(t.pending, id)
		e.setExtra(h)
	}
	t.entries[id] = e
	return e
}

// extraInfo 记录补充响应头，同一请求以最后一次为准直到条目建立
func (t *bodyTracker) extraInfo(id network.RequestID, h traffic.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		e.setExtra(h)
		return
	}
	t.pending[id] = h
}

func (t *bodyTracker) finish(id network.RequestID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
	e, ok := t.entries[id]
	if !ok {
		return
	}
	if !e.finished {
		e.finished = true
		e.err = err
		close(e.done)
	}
	e.setExtra(nil)
	if e.released {
		delete(t.entries, id)
	}
}

func (t *bodyTracker) release(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	e.released = true
	if e.finished {
		delete(t.entries, id)
	}
}

func (t *bodyTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries) + len(t.pending)
}

// response browser.Response 的 CDP 实现，仅在一次分发期间有效
type response struct {
	client    *cdp.Client
	requestID network.RequestID
	snap      *traffic.Response
	body      *bodyEntry

	mu      sync.Mutex
	fetched bool
}

var _ browser.Response = (*response)(nil)

func (r *response) URL() string             { return r.snap.URL }
func (r *response) Status() int             { return r.snap.StatusCode }
func (r *response) Headers() traffic.Header { return r.snap.Headers }

// AllHeaders 合并 responseReceived 与 responseReceivedExtraInfo 的响应头，后者覆盖前者
//
// extraInfo 未到达时等待至加载结束；缓存或 service worker 响应没有 extraInfo，
// 此时只返回 responseReceived 的头部。
func (r *response) AllHeaders(ctx context.Context) (traffic.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := r.snap.Headers.Clone()
	if r.body == nil {
		return h, nil
	}
	extra, err := r.body.waitExtra(ctx)
	if err != nil {
		return nil, fmt.Errorf("response headers %s: %w", r.snap.URL, err)
	}
	for k, v := range extra {
		h.Set(k, v)
	}
	return h, nil
}

// Body 等待加载完成后通过 Network.getResponseBody 读取，结果缓存
func (r *response) Body(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetched {
		return r.snap.Body, nil
	}
	if err := r.body.wait(ctx); err != nil {
		return nil, fmt.Errorf("response body %s: %w", r.snap.URL, err)
	}
	reply, err := r.client.Network.GetResponseBody(ctx, network.NewGetResponseBodyArgs(r.requestID))
	if err != nil {
		return nil, fmt.Errorf("network.getResponseBody %s: %w", r.snap.URL, err)
	}
	data := []byte(reply.Body)
	if reply.Base64Encoded {
		data, err = base64.StdEncoding.DecodeString(reply.Body)
		if err != nil {
			return nil, fmt.Errorf("decode response body %s: %w", r.snap.URL, err)
		}
	}
	r.snap.Body, r.fetched = data, true
	return data, nil
}

func (r *response) Text(ctx context.Context) (string, error) {
	b, err := r.Body(ctx)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
