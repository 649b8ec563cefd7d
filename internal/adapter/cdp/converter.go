package cdp

import (
	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/gjson"

	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/traffic"
)

// ToHeader 将 CDP 头部 JSON 对象转换为小写键的中立 Header
//
// 同名头部被 CDP 以换行拼接，这里保持原样。非字符串值按原始 JSON 文本保存。
func ToHeader(raw network.Headers) traffic.Header {
	h := make(traffic.Header)
	if len(raw) == 0 {
		return h
	}
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		if v.Type == gjson.String {
			h.Set(k.String(), v.String())
		} else {
			h.Set(k.String(), v.Raw)
		}
		return true
	})
	return h
}

// ToNeutralResponse 将 responseReceived 事件转换为中立快照（不含响应体）
func ToNeutralResponse(ev *network.ResponseReceivedReply) *traffic.Response {
	res := traffic.NewResponse()
	res.URL = ev.Response.URL
	res.StatusCode = ev.Response.Status
	res.Headers = ToHeader(ev.Response.Headers)
	return res
}

// ToCookieParams 将启动参数中的 Cookie 转换为 CDP 参数
func ToCookieParams(cookies []browser.Cookie) []network.CookieParam {
	out := make([]network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := network.CookieParam{Name: c.Name, Value: c.Value}
		if c.URL != "" {
			p.URL = strPtr(c.URL)
		}
		if c.Domain != "" {
			p.Domain = strPtr(c.Domain)
		}
		if c.Path != "" {
			p.Path = strPtr(c.Path)
		}
		if c.Secure {
			p.Secure = boolPtr(true)
		}
		if c.HTTPOnly {
			p.HTTPOnly = boolPtr(true)
		}
		out = append(out, p)
	}
	return out
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
