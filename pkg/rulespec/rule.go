package rulespec

import (
	"fmt"
	"regexp"
)

// DecodeMode 命中后对响应体的解码方式
type DecodeMode string

const (
	DecodeNone    DecodeMode = ""
	DecodeGrpcWeb DecodeMode = "grpc-web"
)

// MatchRule 响应匹配规则，构造后不可变
//
// domain 与 path 都是对完整 URL 的无锚点正则搜索，二者各自命中即可，
// 不要求 domain 只落在 host 部分。
type MatchRule struct {
	name        string
	domain      *regexp.Regexp
	path        *regexp.Regexp
	status      int
	contentType string
	decode      DecodeMode
}

// New 编译并创建匹配规则
func New(domain, path string, status int, contentType string) (MatchRule, error) {
	dre, err := regexp.Compile(domain)
	if err != nil {
		return MatchRule{}, fmt.Errorf("invalid domain pattern %q: %w", domain, err)
	}
	pre, err := regexp.Compile(path)
	if err != nil {
		return MatchRule{}, fmt.Errorf("invalid path pattern %q: %w", path, err)
	}
	return MatchRule{
		name:        domain + path,
		domain:      dre,
		path:        pre,
		status:      status,
		contentType: contentType,
	}, nil
}

// MustNew 与 New 相同，编译失败时 panic，仅用于常量规则
func MustNew(domain, path string, status int, contentType string) MatchRule {
	r, err := New(domain, path, status, contentType)
	if err != nil {
		panic(err)
	}
	return r
}

// WithName 返回带名称的副本
func (r MatchRule) WithName(name string) MatchRule {
	r.name = name
	return r
}

// WithDecode 返回带解码方式的副本
func (r MatchRule) WithDecode(mode DecodeMode) MatchRule {
	r.decode = mode
	return r
}

func (r MatchRule) Name() string           { return r.name }
func (r MatchRule) Domain() *regexp.Regexp { return r.domain }
func (r MatchRule) Path() *regexp.Regexp   { return r.path }
func (r MatchRule) Status() int            { return r.status }
func (r MatchRule) ContentType() string    { return r.contentType }
func (r MatchRule) Decode() DecodeMode     { return r.decode }

// Valid 零值规则不可用
func (r MatchRule) Valid() bool {
	return r.domain != nil && r.path != nil
}

func (r MatchRule) String() string {
	return fmt.Sprintf("%s{domain=%q path=%q status=%d contentType=%q}",
		r.name, r.domain, r.path, r.status, r.contentType)
}
