package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/dom"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/tidwall/gjson"

	cdpadapter "cdpwatch/internal/adapter/cdp"
	"cdpwatch/internal/logger"
	"cdpwatch/pkg/browser"
)

// Page CDP 页面句柄，同时负责把网络事件转成 browser.Response 分发给监听器
type Page struct {
	client  *cdp.Client
	log     logger.Logger
	onError func(error)
	bodies  *bodyTracker

	mu        sync.RWMutex
	listeners map[int]browser.ResponseListener
	nextID    int
}

var _ browser.Page = (*Page)(nil)

func newPage(client *cdp.Client, l logger.Logger, onError func(error)) *Page {
	return &Page{
		client:    client,
		log:       l,
		onError:   onError,
		bodies:    newBodyTracker(),
		listeners: make(map[int]browser.ResponseListener),
	}
}

// Navigate 导航到指定地址
func (p *Page) Navigate(ctx context.Context, url string) error {
	reply, err := p.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, *reply.ErrorText)
	}
	p.log.Debug("页面导航", "url", url)
	return nil
}

// Title 读取 document.title
func (p *Page) Title(ctx context.Context) (string, error) {
	reply, err := p.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs("document.title").SetReturnByValue(true))
	if err != nil {
		return "", err
	}
	if reply.ExceptionDetails != nil {
		return "", fmt.Errorf("evaluate document.title: %s", reply.ExceptionDetails.Text)
	}
	return gjson.ParseBytes(reply.Result.Value).String(), nil
}

// Locator 以 CSS 选择器查询当前文档，返回一次性的快照集合
func (p *Page) Locator(ctx context.Context, selector string) (browser.ElementSet, error) {
	doc, err := p.client.DOM.GetDocument(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("dom.getDocument: %w", err)
	}
	reply, err := p.client.DOM.QuerySelectorAll(ctx, dom.NewQuerySelectorAllArgs(doc.Root.NodeID, selector))
	if err != nil {
		return nil, fmt.Errorf("dom.querySelectorAll %q: %w", selector, err)
	}
	return &elementSet{client: p.client, selector: selector, nodes: reply.NodeIDs}, nil
}

// WaitForTimeout 挂起当前调用方，不影响事件消费
func (p *Page) WaitForTimeout(ctx context.Context, d time.Duration) error {
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

// OnResponse 注册持久监听器
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

func (p *Page) snapshotListeners() []browser.ResponseListener {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ls := make([]browser.ResponseListener, 0, len(p.listeners))
	for _, l := range p.listeners {
		ls = append(ls, l)
	}
	return ls
}

// consume 按传输顺序读取响应、补充响应头、加载完成与加载失败事件
//
// 四个事件流通过 cdp.Sync 保持相对顺序，因此某个请求的 loadingFinished
// 一定在其 responseReceived 之后被处理。ready 只写入一次。
func (p *Page) consume(ctx context.Context, ready chan<- error) error {
	received, err := p.client.Network.ResponseReceived(ctx)
	if err != nil {
		ready <- err
		return err
	}
	defer received.Close()
	finished, err := p.client.Network.LoadingFinished(ctx)
	if err != nil {
		ready <- err
		return err
	}
	defer finished.Close()
	failed, err := p.client.Network.LoadingFailed(ctx)
	if err != nil {
		ready <- err
		return err
	}
	defer failed.Close()
	extra, err := p.client.Network.ResponseReceivedExtraInfo(ctx)
	if err != nil {
		ready <- err
		return err
	}
	defer extra.Close()
	if err := cdp.Sync(received, extra, finished, failed); err != nil {
		ready <- err
		return err
	}
	ready <- nil

	p.log.Info("开始消费响应事件流")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-received.Ready():
			ev, err := received.Recv()
			if err != nil {
				return err
			}
			p.emit(ctx, ev)
		case <-extra.Ready():
			ev, err := extra.Recv()
			if err != nil {
				return err
			}
			p.bodies.extraInfo(ev.RequestID, cdpadapter.ToHeader(ev.Headers))
		case <-finished.Ready():
			ev, err := finished.Recv()
			if err != nil {
				return err
			}
			p.bodies.finish(ev.RequestID, nil)
		case <-failed.Ready():
			ev, err := failed.Recv()
			if err != nil {
				return err
			}
			p.bodies.finish(ev.RequestID, fmt.Errorf("loading failed: %s", ev.ErrorText))
		}
	}
}

// emit 在新 goroutine 中调用所有监听器，慢回调不阻塞后续事件
func (p *Page) emit(ctx context.Context, ev *network.ResponseReceivedReply) {
	entry := p.bodies.track(ev.RequestID)
	listeners := p.snapshotListeners()
	if len(listeners) == 0 {
		p.bodies.release(ev.RequestID)
		return
	}
	resp := &response{
		client:    p.client,
		requestID: ev.RequestID,
		snap:      cdpadapter.ToNeutralResponse(ev),
		body:      entry,
	}

	go func() {
		defer p.bodies.release(ev.RequestID)
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for _, l := range listeners {
			l := l
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := l(ctx, resp); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if err := errors.Join(errs...); err != nil {
			p.log.Err(err, "响应监听器执行失败", "url", resp.URL(), "requestID", string(ev.RequestID))
			if p.onError != nil {
				p.onError(err)
			}
		}
	}()
}
