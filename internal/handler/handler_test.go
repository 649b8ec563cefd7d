package handler

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpwatch/internal/ctxkeys"
	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/browser/browsertest"
	"cdpwatch/pkg/grpcweb"
	"cdpwatch/pkg/model"
	"cdpwatch/pkg/rulespec"
	"cdpwatch/pkg/traffic"
)

type call struct {
	url     string
	matched bool
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) cb() Callback {
	return CallbackFunc(func(ctx context.Context, page browser.Page, resp browser.Response, matched bool) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, call{url: resp.URL(), matched: matched})
		return nil
	})
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func newHandler(t *testing.T) (*Handler, *browsertest.Page) {
	t.Helper()
	page := browsertest.NewPage()
	return New(Config{Session: "s1", Page: page}), page
}

func apiRule() rulespec.MatchRule {
	return rulespec.MustNew("example.com", "/api", 200, "application/json")
}

func TestDispatchStatusMismatchReportsFalse(t *testing.T) {
	h, _ := newHandler(t)
	rec := &recorder{}
	_, err := h.Subscribe(apiRule(), rec.cb())
	require.NoError(t, err)

	resp := browsertest.NewResponse("https://example.com/api/data", 404, "application/json", "{}")
	require.NoError(t, h.Dispatch(context.Background(), resp))

	assert.Equal(t, []call{{url: "https://example.com/api/data", matched: false}}, rec.snapshot())
}

func TestDispatchMatchedEqualsStatusEquality(t *testing.T) {
	for _, status := range []int{200, 201, 302, 404, 500} {
		h, _ := newHandler(t)
		rec := &recorder{}
		_, err := h.Subscribe(apiRule(), rec.cb())
		require.NoError(t, err)

		resp := browsertest.NewResponse("https://example.com/api/x", status, "application/json", "")
		require.NoError(t, h.Dispatch(context.Background(), resp))

		calls := rec.snapshot()
		require.Len(t, calls, 1, "status %d", status)
		assert.Equal(t, status == 200, calls[0].matched, "status %d", status)
	}
}

func TestDispatchFilterMissNeverInvokes(t *testing.T) {
	h, _ := newHandler(t)
	rec := &recorder{}
	_, err := h.Subscribe(apiRule(), rec.cb())
	require.NoError(t, err)

	misses := []*browsertest.Response{
		browsertest.NewResponse("https://other.org/api/data", 200, "application/json", ""),
		browsertest.NewResponse("https://example.com/static/x", 200, "application/json", ""),
		browsertest.NewResponse("https://example.com/api/data", 200, "text/html", ""),
		browsertest.NewResponse("https://example.com/api/data", 200, "", ""),
	}
	for _, r := range misses {
		require.NoError(t, h.Dispatch(context.Background(), r))
		assert.Zero(t, r.HeaderCalls(), "headers must not be fetched for %s", r.URL())
	}
	assert.Empty(t, rec.snapshot())
	assert.EqualValues(t, 4, h.Stats().Total)
	assert.Zero(t, h.Stats().Dispatched)
}

func TestDispatchRechecksResolvedContentType(t *testing.T) {
	h, _ := newHandler(t)
	rec := &recorder{}
	_, err := h.Subscribe(apiRule(), rec.cb())
	require.NoError(t, err)

	resp := browsertest.NewResponse("https://example.com/api/data", 200, "application/json", "")
	resp.Full = traffic.Header{"content-type": "application/json; charset=utf-8"}
	require.NoError(t, h.Dispatch(context.Background(), resp))

	assert.Equal(t, 1, resp.HeaderCalls())
	assert.Empty(t, rec.snapshot())
}

func TestTwoSubscriptionsBothFireOnce(t *testing.T) {
	h, _ := newHandler(t)
	first, second := &recorder{}, &recorder{}
	_, err := h.Subscribe(apiRule(), first.cb())
	require.NoError(t, err)
	_, err = h.Subscribe(rulespec.MustNew(`\.com`, `data$`, 404, "application/json"), second.cb())
	require.NoError(t, err)

	resp := browsertest.NewResponse("https://example.com/api/data", 404, "application/json", "")
	require.NoError(t, h.Dispatch(context.Background(), resp))

	assert.Equal(t, []call{{url: resp.URL(), matched: false}}, first.snapshot())
	assert.Equal(t, []call{{url: resp.URL(), matched: true}}, second.snapshot())

	st := h.Stats()
	assert.EqualValues(t, 1, st.Total)
	assert.EqualValues(t, 2, st.Dispatched)
	assert.EqualValues(t, 1, st.Matched)
}

func TestSlowCallbackDoesNotBlockOtherSubscriptions(t *testing.T) {
	h, _ := newHandler(t)
	release := make(chan struct{})
	fastDone := make(chan struct{})

	_, err := h.Subscribe(apiRule(), CallbackFunc(func(ctx context.Context, _ browser.Page, _ browser.Response, _ bool) error {
		<-release
		return nil
	}))
	require.NoError(t, err)
	_, err = h.Subscribe(apiRule(), CallbackFunc(func(ctx context.Context, _ browser.Page, _ browser.Response, _ bool) error {
		close(fastDone)
		return nil
	}))
	require.NoError(t, err)

	resp := browsertest.NewResponse("https://example.com/api/data", 200, "application/json", "")
	done := make(chan error, 1)
	go func() { done <- h.Dispatch(context.Background(), resp) }()

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscription blocked by slow one")
	}
	close(release)
	require.NoError(t, <-done)
}

func TestDispatchPropagatesFailures(t *testing.T) {
	h, _ := newHandler(t)
	boom := errors.New("boom")
	_, err := h.Subscribe(apiRule(), CallbackFunc(func(context.Context, browser.Page, browser.Response, bool) error {
		return boom
	}))
	require.NoError(t, err)

	resp := browsertest.NewResponse("https://example.com/api/data", 200, "application/json", "")
	err = h.Dispatch(context.Background(), resp)
	assert.ErrorIs(t, err, boom)

	headerErr := errors.New("headers gone")
	resp.HeadersErr = headerErr
	err = h.Dispatch(context.Background(), resp)
	assert.ErrorIs(t, err, headerErr)
}

func TestCallbackReceivesPageAndTrace(t *testing.T) {
	h, page := newHandler(t)
	var (
		gotPage  browser.Page
		gotTrace string
		gotSub   string
	)
	sub, err := h.Subscribe(apiRule(), CallbackFunc(func(ctx context.Context, p browser.Page, _ browser.Response, _ bool) error {
		gotPage = p
		gotTrace = ctxkeys.TraceID(ctx)
		gotSub = ctxkeys.SubscriptionID(ctx)
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, h.Dispatch(context.Background(),
		browsertest.NewResponse("https://example.com/api", 200, "application/json", "")))
	assert.Same(t, page, gotPage)
	assert.NotEmpty(t, gotTrace)
	assert.Equal(t, string(sub.ID()), gotSub)
}

func TestDisposeStopsDelivery(t *testing.T) {
	h, _ := newHandler(t)
	rec := &recorder{}
	sub, err := h.Subscribe(apiRule(), rec.cb())
	require.NoError(t, err)

	resp := browsertest.NewResponse("https://example.com/api", 200, "application/json", "")
	require.NoError(t, h.Dispatch(context.Background(), resp))
	assert.True(t, sub.Dispose())
	assert.False(t, sub.Dispose())
	require.NoError(t, h.Dispatch(context.Background(), resp))

	assert.Len(t, rec.snapshot(), 1)
	assert.Zero(t, h.Len())
	assert.False(t, h.Unsubscribe(sub.ID()))
}

func TestSubscribeValidation(t *testing.T) {
	h, _ := newHandler(t)
	_, err := h.Subscribe(rulespec.MatchRule{}, (&recorder{}).cb())
	assert.ErrorIs(t, err, ErrInvalidRule)
	_, err = h.Subscribe(apiRule(), nil)
	assert.ErrorIs(t, err, ErrNilCallback)
}

func TestEventsChannel(t *testing.T) {
	events := make(chan model.ResponseEvent, 4)
	h := New(Config{Session: "s1", Page: browsertest.NewPage(), Events: events})
	sub, err := h.Subscribe(apiRule().WithName("api"), (&recorder{}).cb())
	require.NoError(t, err)

	require.NoError(t, h.Dispatch(context.Background(),
		browsertest.NewResponse("https://example.com/api", 500, "application/json", "")))

	select {
	case evt := <-events:
		assert.Equal(t, model.SessionID("s1"), evt.Session)
		assert.Equal(t, sub.ID(), evt.Subscription)
		assert.Equal(t, "api", evt.Rule)
		assert.Equal(t, 500, evt.StatusCode)
		assert.False(t, evt.Matched)
		assert.NotZero(t, evt.Timestamp)
	default:
		t.Fatal("expected an event")
	}
}

func TestDecodeGrpcWeb(t *testing.T) {
	h, _ := newHandler(t)
	rule := rulespec.MustNew("rpc.stailer.jp", "CheckDeliveryArea", 200, "application/grpc-web+proto")

	var got grpcweb.Decoded
	_, err := h.Subscribe(rule, DecodeGrpcWeb(func(_ context.Context, _ browser.Page, _ browser.Response, matched bool, d grpcweb.Decoded) error {
		assert.True(t, matched)
		got = d
		return nil
	}, nil))
	require.NoError(t, err)

	resp := browsertest.NewResponse("https://rpc.stailer.jp/x/CheckDeliveryArea", 200,
		"application/grpc-web+proto", "payloadÀgrpc-status:0Àgrpc-message:OK")
	require.NoError(t, h.Dispatch(context.Background(), resp))
	assert.Equal(t, grpcweb.Decoded{Text: "payload", Status: grpcweb.StatusOK}, got)
}

func TestDecodeGrpcWebFramedBody(t *testing.T) {
	h, _ := newHandler(t)
	const ct = "application/grpc-web+proto"
	rule := rulespec.MustNew("rpc.stailer.jp", "CheckDeliveryArea", 200, ct)

	var got grpcweb.Decoded
	_, err := h.Subscribe(rule, DecodeGrpcWeb(func(_ context.Context, _ browser.Page, _ browser.Response, _ bool, d grpcweb.Decoded) error {
		got = d
		return nil
	}, nil))
	require.NoError(t, err)

	body := append(grpcFrame(0x00, "\x0a\x05café"), grpcFrame(0x80, "grpc-status:0\r\ngrpc-message:OK\r\n")...)
	resp := browsertest.NewResponse("https://rpc.stailer.jp/x/CheckDeliveryArea", 200, ct, "")
	resp.BodyBytes = body
	require.NoError(t, h.Dispatch(context.Background(), resp))

	want := grpcweb.Decode(string(body))
	assert.Equal(t, want.Text, got.Text)
	assert.Equal(t, want.Status, got.Status)
	assert.NotContains(t, got.Text, "é")

	require.NotNil(t, got.Framed)
	assert.Equal(t, grpcweb.StatusOK, got.Framed.Status)
	assert.Equal(t, "\x0a\x05café", got.Framed.Text)
}

func grpcFrame(flag byte, payload string) []byte {
	b := make([]byte, 5, 5+len(payload))
	b[0] = flag
	binary.BigEndian.PutUint32(b[1:], uint32(len(payload)))
	return append(b, payload...)
}
