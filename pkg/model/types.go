package model

type SessionID string
type SubscriptionID string

// 匹配规则类型见 pkg/rulespec

type EngineStats struct {
	Total      int64                    `json:"total"`
	Dispatched int64                    `json:"dispatched"`
	Matched    int64                    `json:"matched"`
	ByRule     map[SubscriptionID]int64 `json:"byRule"`
}

// ResponseEvent 一次分发结果的可序列化视图
type ResponseEvent struct {
	Session      SessionID      `json:"session"`
	Subscription SubscriptionID `json:"subscription"`
	Rule         string         `json:"rule"`
	URL          string         `json:"url"`
	StatusCode   int            `json:"statusCode"`
	ContentType  string         `json:"contentType"`
	Matched      bool           `json:"matched"`
	Timestamp    int64          `json:"timestamp"`
}

// SessionInfo 会话概要
type SessionInfo struct {
	ID            SessionID `json:"id"`
	DevToolsURL   string    `json:"devToolsURL"`
	Subscriptions int       `json:"subscriptions"`
}
