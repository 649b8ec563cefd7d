package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpwatch/pkg/browser"
	"cdpwatch/pkg/browser/browsertest"
)

func TestResolveOnThirdAttempt(t *testing.T) {
	page := browsertest.NewPage()
	page.Locate = func(selector string, call int) (int, error) {
		if call == 3 {
			return 2, nil
		}
		return 0, nil
	}

	p := &Poller{MaxAttempts: 2, Interval: 0}
	set, err := p.Resolve(context.Background(), page, "#late")
	require.NoError(t, err)
	assert.Equal(t, 2, set.Count())
	assert.Equal(t, "#late", set.Selector())
	assert.NotNil(t, set.Nth(1))
	assert.Equal(t, 3, page.Queries("#late"))
	assert.Len(t, page.Waits(), 2)
}

func TestResolveExhausted(t *testing.T) {
	page := browsertest.NewPage()

	p := &Poller{MaxAttempts: 2, Interval: 0}
	_, err := p.Resolve(context.Background(), page, "#never")

	var nf *browser.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "#never", nf.Selector)
	assert.Equal(t, 3, nf.Attempts)
	assert.ErrorIs(t, err, browser.ErrNotFound)
	assert.Equal(t, 3, page.Queries("#never"))
}

func TestResolveImmediate(t *testing.T) {
	page := browsertest.NewPage()
	page.Locate = func(string, int) (int, error) { return 1, nil }

	set, err := NewPoller().Resolve(context.Background(), page, "body")
	require.NoError(t, err)
	assert.Equal(t, 1, set.Count())
	assert.Empty(t, page.Waits())
}

func TestResolveFixedInterval(t *testing.T) {
	page := browsertest.NewPage()
	p := &Poller{MaxAttempts: 3, Interval: time.Millisecond}
	_, err := p.Resolve(context.Background(), page, "#x")
	require.Error(t, err)
	assert.Equal(t, []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, page.Waits())
}

func TestResolveQueryErrorIsKept(t *testing.T) {
	page := browsertest.NewPage()
	queryErr := errors.New("document not ready")
	page.Locate = func(string, int) (int, error) { return 0, queryErr }

	p := &Poller{MaxAttempts: 1}
	_, err := p.Resolve(context.Background(), page, "#x")
	assert.ErrorIs(t, err, browser.ErrNotFound)
	assert.ErrorIs(t, err, queryErr)
	assert.Equal(t, 2, page.Queries("#x"))
}

func TestResolveNegativeAttempts(t *testing.T) {
	page := browsertest.NewPage()
	p := &Poller{MaxAttempts: -4, Interval: -time.Second}
	_, err := p.Resolve(context.Background(), page, "#x")
	assert.ErrorIs(t, err, browser.ErrNotFound)
	assert.Equal(t, 1, page.Queries("#x"))
}

func TestResolveCancelled(t *testing.T) {
	page := browsertest.NewPage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Poller{MaxAttempts: 5, Interval: time.Hour}
	_, err := p.Resolve(ctx, page, "#x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveCancelledDuringWait(t *testing.T) {
	page := browsertest.NewPage()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := &Poller{MaxAttempts: 5, Interval: time.Hour}
	_, err := p.Resolve(ctx, page, "#x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, page.Queries("#x"))
}
