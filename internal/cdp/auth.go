package cdp

import (
	"context"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/fetch"

	"cdpwatch/internal/logger"
	"cdpwatch/pkg/browser"
)

// enableProxyAuth 开启 Fetch 拦截以回答代理认证挑战，其余请求直接放行
func enableProxyAuth(ctx, sessionCtx context.Context, client *cdp.Client, proxy *browser.Proxy, l logger.Logger) error {
	paused, err := client.Fetch.RequestPaused(sessionCtx)
	if err != nil {
		return err
	}
	auth, err := client.Fetch.AuthRequired(sessionCtx)
	if err != nil {
		paused.Close()
		return err
	}
	handle := true
	if err := client.Fetch.Enable(ctx, &fetch.EnableArgs{HandleAuthRequests: &handle}); err != nil {
		paused.Close()
		auth.Close()
		return err
	}

	go func() {
		defer paused.Close()
		defer auth.Close()
		for {
			select {
			case <-sessionCtx.Done():
				return
			case <-paused.Ready():
				ev, err := paused.Recv()
				if err != nil {
					l.Err(err, "接收拦截事件失败")
					return
				}
				go continueRequest(sessionCtx, client, ev.RequestID, l)
			case <-auth.Ready():
				ev, err := auth.Recv()
				if err != nil {
					l.Err(err, "接收认证事件失败")
					return
				}
				go answerAuth(sessionCtx, client, ev, proxy, l)
			}
		}
	}()
	return nil
}

func continueRequest(ctx context.Context, client *cdp.Client, id fetch.RequestID, l logger.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Fetch.ContinueRequest(ctx, fetch.NewContinueRequestArgs(id)); err != nil {
		l.Warn("放行请求失败", "requestID", string(id), "error", err)
	}
}

func answerAuth(ctx context.Context, client *cdp.Client, ev *fetch.AuthRequiredReply, proxy *browser.Proxy, l logger.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp := fetch.AuthChallengeResponse{
		Response: "ProvideCredentials",
		Username: &proxy.Username,
		Password: &proxy.Password,
	}
	if err := client.Fetch.ContinueWithAuth(ctx, fetch.NewContinueWithAuthArgs(ev.RequestID, resp)); err != nil {
		l.Warn("回应认证挑战失败", "requestID", string(ev.RequestID), "error", err)
		return
	}
	l.Debug("已回应认证挑战", "origin", ev.AuthChallenge.Origin, "response", resp.Response)
}
