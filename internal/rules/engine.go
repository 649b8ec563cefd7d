package rules

import (
	"cdpwatch/pkg/rulespec"
)

// Descriptor 匹配所需的响应描述
type Descriptor struct {
	URL         string
	StatusCode  int
	ContentType string
}

// Outcome 匹配结果
//
// Dispatch 为 false 表示 URL 或 content-type 未命中，应静默丢弃；
// Matched 只在 Dispatch 为 true 时有意义，表示状态码是否也命中。
type Outcome struct {
	Dispatch bool
	Matched  bool
}

// Gate 判断 URL 与 content-type 是否命中，状态码不参与
func Gate(d Descriptor, r rulespec.MatchRule) bool {
	if !r.Valid() {
		return false
	}
	return matchURL(d.URL, r) && matchContentType(d.ContentType, r)
}

// Evaluate 完整评估：先过 URL/content-type 门，再单独判断状态码
func Evaluate(d Descriptor, r rulespec.MatchRule) Outcome {
	if !Gate(d, r) {
		return Outcome{}
	}
	return Outcome{Dispatch: true, Matched: StatusMatched(d.StatusCode, r)}
}

// StatusMatched 状态码精确相等
func StatusMatched(status int, r rulespec.MatchRule) bool {
	return status == r.Status()
}

// matchURL domain 与 path 各自在完整 URL 上做正则搜索
func matchURL(url string, r rulespec.MatchRule) bool {
	return r.Domain().MatchString(url) && r.Path().MatchString(url)
}

// matchContentType 区分大小写的精确比较
func matchContentType(ct string, r rulespec.MatchRule) bool {
	return ct == r.ContentType()
}
