// Package browser 定义浏览器会话协作方的抽象。
//
// 核心逻辑（响应订阅、重试轮询）只依赖这里的接口，具体实现见 internal/cdp，
// 测试替身见 browsertest。
package browser

import (
	"context"
	"time"

	"cdpwatch/pkg/traffic"
)

// Response 单个网络响应的只读投影，仅在一次分发期间有效
type Response interface {
	URL() string
	Status() int
	// Headers 事件自带的响应头，可能不完整
	Headers() traffic.Header
	// AllHeaders 等待并返回完整响应头
	AllHeaders(ctx context.Context) (traffic.Header, error)
	// Body 惰性获取响应体
	Body(ctx context.Context) ([]byte, error)
	Text(ctx context.Context) (string, error)
}

// ResponseListener 持久的响应事件监听器
type ResponseListener func(ctx context.Context, resp Response) error

// Element 元素句柄
type Element interface {
	OuterHTML(ctx context.Context) (string, error)
}

// ElementSet 一次选择器查询的结果
type ElementSet interface {
	Selector() string
	Count() int
	Nth(i int) Element
}

// Page 页面句柄
type Page interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	Locator(ctx context.Context, selector string) (ElementSet, error)
	WaitForTimeout(ctx context.Context, d time.Duration) error
	// OnResponse 注册持久监听器，返回的函数用于注销
	OnResponse(l ResponseListener) (remove func())
}

// Session 一个浏览器自动化上下文，包含单个页面及其网络事件流
type Session interface {
	Page() Page
	DevToolsURL() string
	Close() error
}

// Launcher 启动或附加浏览器会话
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Cookie 启动后注入的 Cookie
type Cookie struct {
	Name     string `yaml:"name" json:"name"`
	Value    string `yaml:"value" json:"value"`
	URL      string `yaml:"url" json:"url"`
	Domain   string `yaml:"domain" json:"domain"`
	Path     string `yaml:"path" json:"path"`
	Secure   bool   `yaml:"secure" json:"secure"`
	HTTPOnly bool   `yaml:"httpOnly" json:"httpOnly"`
}

// Proxy 代理列表，启动时从 Items 中随机选一个
type Proxy struct {
	Items    []string `yaml:"items" json:"items"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"password"`
}

// LaunchOptions 会话启动参数
type LaunchOptions struct {
	// DevToolsURL 非空时附加到已有浏览器而不是启动新进程
	DevToolsURL   string   `yaml:"devToolsURL" json:"devToolsURL"`
	ChromePath    string   `yaml:"chromePath" json:"chromePath"`
	Headless      bool     `yaml:"headless" json:"headless"`
	DisableImages bool     `yaml:"disableImages" json:"disableImages"`
	Proxy         *Proxy   `yaml:"proxy" json:"proxy"`
	Cookies       []Cookie `yaml:"cookies" json:"cookies"`
	Args          []string `yaml:"args" json:"args"`
	// StartTimeoutMS 等待 DevTools 就绪的上限
	StartTimeoutMS int `yaml:"startTimeoutMS" json:"startTimeoutMS"`
}
