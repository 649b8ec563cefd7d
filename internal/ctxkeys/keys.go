package ctxkeys

import (
	"context"

	"github.com/google/uuid"
)

// TraceIDKey 一次响应分发的追踪 ID
type TraceIDKey struct{}

// SessionIDKey 所属会话 ID
type SessionIDKey struct{}

// WithTraceID 为上下文附加新的追踪 ID
func WithTraceID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(ctx, TraceIDKey{}, id), id
}

// TraceID 读取追踪 ID，不存在时返回空串
func TraceID(ctx context.Context) string {
	s, _ := ctx.Value(TraceIDKey{}).(string)
	return s
}

// SessionID 读取会话 ID
func SessionID(ctx context.Context) string {
	s, _ := ctx.Value(SessionIDKey{}).(string)
	return s
}

// SubscriptionIDKey 正在处理的订阅 ID
type SubscriptionIDKey struct{}

// WithSessionID 附加会话 ID
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey{}, id)
}

// WithSubscriptionID 附加订阅 ID
func WithSubscriptionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SubscriptionIDKey{}, id)
}

// SubscriptionID 读取订阅 ID
func SubscriptionID(ctx context.Context) string {
	s, _ := ctx.Value(SubscriptionIDKey{}).(string)
	return s
}
