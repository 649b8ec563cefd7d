package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/browser/browsertest"
	"cdpwatch/pkg/grpcweb"
	"cdpwatch/pkg/model"
	"cdpwatch/pkg/rulespec"
)

func newTestService(t *testing.T) (*Service, *browsertest.Launcher) {
	t.Helper()
	l := &browsertest.Launcher{}
	s := New(Config{Launcher: l, MaxAttempts: 2, Interval: 0})
	t.Cleanup(func() { _ = s.Close() })
	return s, l
}

func startedPage(t *testing.T, s *Service, l *browsertest.Launcher) (model.SessionID, *browsertest.Page) {
	t.Helper()
	id, err := s.StartSession(context.Background(), browser.LaunchOptions{Headless: true})
	require.NoError(t, err)
	sessions := l.Sessions()
	require.NotEmpty(t, sessions)
	return id, sessions[len(sessions)-1].P
}

func TestServiceLifecycle(t *testing.T) {
	s, l := newTestService(t)
	id, page := startedPage(t, s, l)
	assert.True(t, l.LastOpts().Headless)

	require.NoError(t, s.Navigate(context.Background(), id, "https://example.com"))
	assert.Equal(t, []string{"https://example.com"}, page.Visited())

	infos := s.ListSessions()
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].ID)

	require.NoError(t, s.StopSession(id))
	assert.ErrorIs(t, s.StopSession(id), ErrSessionNotFound)
	assert.ErrorIs(t, s.Navigate(context.Background(), id, "x"), ErrSessionNotFound)
	_, err := s.Stats(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, s.ListSessions())
}

func TestServiceLaunchFailure(t *testing.T) {
	l := &browsertest.Launcher{Err: errors.New("boom")}
	s := New(Config{Launcher: l})
	_, err := s.StartSession(context.Background(), browser.LaunchOptions{})
	require.Error(t, err)
	var le *browser.LaunchError
	assert.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, browser.ErrLaunch)
	assert.Empty(t, s.ListSessions())
}

func TestServiceWatchAndUnwatch(t *testing.T) {
	s, l := newTestService(t)
	id, page := startedPage(t, s, l)

	rule := rulespec.MustNew(`example\.com`, `/api`, 200, "application/json")
	var calls []bool
	sub, err := s.WatchResponse(id, rule, func(_ context.Context, _ browser.Page, _ browser.Response, matched bool) error {
		calls = append(calls, matched)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, page.Emit(ctx, browsertest.NewResponse("https://example.com/api", 404, "application/json", "")))
	assert.Equal(t, []bool{false}, calls)

	st, err := s.Stats(id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Total)
	assert.EqualValues(t, 1, st.ByRule[sub])

	require.NoError(t, s.Unwatch(sub))
	assert.ErrorIs(t, s.Unwatch(sub), ErrSubscriptionNotFound)

	require.NoError(t, page.Emit(ctx, browsertest.NewResponse("https://example.com/api", 200, "application/json", "")))
	assert.Len(t, calls, 1)
}

func TestServiceWatchGrpcWeb(t *testing.T) {
	s, l := newTestService(t)
	id, page := startedPage(t, s, l)

	const ct = "application/grpc-web-text+proto"
	rule := rulespec.MustNew(`rpc\.stailer\.jp`, `CheckDeliveryArea`, 200, ct)
	var got grpcweb.Decoded
	_, err := s.WatchGrpcWeb(id, rule, func(_ context.Context, _ browser.Page, _ browser.Response, _ bool, d grpcweb.Decoded) error {
		got = d
		return nil
	})
	require.NoError(t, err)

	resp := browsertest.NewResponse("https://rpc.stailer.jp/x.CheckDeliveryArea", 200, ct,
		"payloadÀgrpc-status:5Àgrpc-message:nf")
	require.NoError(t, page.Emit(context.Background(), resp))
	assert.Equal(t, grpcweb.StatusNotFound, got.Status)
}

func TestServiceResolveWithRetry(t *testing.T) {
	s, l := newTestService(t)
	id, page := startedPage(t, s, l)

	page.Locate = func(selector string, call int) (int, error) {
		if selector == ".item" && call == 3 {
			return 1, nil
		}
		return 0, nil
	}
	set, err := s.ResolveWithRetry(context.Background(), id, ".item")
	require.NoError(t, err)
	assert.Equal(t, 1, set.Count())

	_, err = s.ResolveWithRetry(context.Background(), id, ".missing")
	assert.ErrorIs(t, err, browser.ErrNotFound)
	assert.Equal(t, 3, page.Queries(".missing"))
}

func TestServiceValidation(t *testing.T) {
	s, l := newTestService(t)
	id, _ := startedPage(t, s, l)
	_, err := s.WatchResponse(id, rulespec.MustNew("a", "b", 200, "c"), nil)
	assert.Error(t, err)
	_, err = s.WatchResponse("nope", rulespec.MustNew("a", "b", 200, "c"), func(context.Context, browser.Page, browser.Response, bool) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
