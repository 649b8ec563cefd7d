package handler

import (
	"context"
	"fmt"

	"cdpwatch/internal/metrics"
	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/grpcweb"
)

// GrpcCallbackFunc 附带 gRPC-Web 解码结果的回调
type GrpcCallbackFunc func(ctx context.Context, page browser.Page, resp browser.Response, matched bool, decoded grpcweb.Decoded) error

// DecodeGrpcWeb 包装回调：读取响应体并解码 trailer 后再调用 fn
//
// 传给 fn 的结果始终是对响应文本的 grpcweb.Decode；响应体能按帧解析时
// 帧级结果另放在 Framed。解码失败以 StatusDecodeFailed 传递，只有读取响应体失败才返回错误。
func DecodeGrpcWeb(fn GrpcCallbackFunc, m *metrics.Collector) Callback {
	return CallbackFunc(func(ctx context.Context, page browser.Page, resp browser.Response, matched bool) error {
		body, err := resp.Body(ctx)
		if err != nil {
			return fmt.Errorf("read grpc-web body: %w", err)
		}
		decoded := grpcweb.Decode(string(body))
		if framed, ok := grpcweb.DecodeFrames(resp.Headers().ContentType(), body); ok {
			decoded.Framed = &framed
		}
		m.GrpcStatus(decoded.Status.String())
		return fn(ctx, page, resp, matched, decoded)
	})
}
