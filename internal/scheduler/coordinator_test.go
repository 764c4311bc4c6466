package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	syncerr "github.com/alexjbarnes/sheet-sync/internal/errors"
	"github.com/alexjbarnes/sheet-sync/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePasser counts passes. When gate is non-nil every pass waits for it
// to be closed. errs[i] is returned by the (i+1)th pass.
type fakePasser struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	errs  []error
}

func (f *fakePasser) Pass(ctx context.Context) (*reconcile.Result, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if n <= len(f.errs) && f.errs[n-1] != nil {
		return nil, f.errs[n-1]
	}

	return &reconcile.Result{PassID: strconv.Itoa(n)}, nil
}

func (f *fakePasser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_Defaults(t *testing.T) {
	c := New(&fakePasser{}, Config{}, testLogger())
	assert.Equal(t, DefaultInterval, c.interval)
	assert.Equal(t, DefaultPassTimeout, c.passTimeout)
}

func TestTrigger_NeverBlocks(t *testing.T) {
	c := New(&fakePasser{}, Config{}, testLogger())

	for i := 0; i < 100; i++ {
		c.Trigger()
	}

	assert.Len(t, c.wake, 1)
}

// --- RunOnce ---

func TestRunOnce_ReturnsResult(t *testing.T) {
	p := &fakePasser{}
	c := New(p, Config{}, testLogger())

	res, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", res.PassID)

	st := c.Status()
	assert.False(t, st.Running)
	assert.Equal(t, int64(1), st.Passes)
	assert.Equal(t, res, st.LastResult)
	assert.False(t, st.LastFinished.IsZero())
}

func TestRunOnce_FailureRecorded(t *testing.T) {
	p := &fakePasser{errs: []error{syncerr.ErrStoreUnavailable}}
	c := New(p, Config{}, testLogger())

	_, err := c.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncerr.ErrStoreUnavailable))

	st := c.Status()
	assert.Equal(t, int64(1), st.Failures)
	assert.Contains(t, st.LastError, "store unavailable")

	_, err = c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, c.Status().LastError)
}

func TestRunOnce_InFlightQueuesOneRerun(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := &fakePasser{gate: make(chan struct{})}
		c := New(p, Config{}, testLogger())

		done := make(chan *reconcile.Result, 1)

		go func() {
			res, _ := c.RunOnce(t.Context())
			done <- res
		}()

		synctest.Wait()
		assert.True(t, c.Status().Running)

		for i := 0; i < 5; i++ {
			_, err := c.RunOnce(t.Context())
			assert.ErrorIs(t, err, syncerr.ErrPassInFlight)
		}

		assert.True(t, c.Status().Pending)

		close(p.gate)

		res := <-done
		assert.Equal(t, 2, p.count())
		assert.Equal(t, "2", res.PassID)
		assert.False(t, c.Status().Running)
		assert.False(t, c.Status().Pending)
	})
}

func TestRunOnce_PassTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := &fakePasser{gate: make(chan struct{})}
		c := New(p, Config{PassTimeout: time.Second}, testLogger())

		_, err := c.RunOnce(t.Context())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int64(1), c.Status().Failures)
	})
}

// --- Run ---

func startRun(t *testing.T, c *Coordinator) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- c.Run(ctx) }()

	return cancel, done
}

func TestRun_TickerDrivesPasses(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := &fakePasser{}
		c := New(p, Config{Interval: 10 * time.Second}, testLogger())

		cancel, done := startRun(t, c)

		time.Sleep(35 * time.Second)
		synctest.Wait()

		// Startup pass plus ticks at 10s, 20s, 30s.
		assert.Equal(t, 4, p.count())

		cancel()
		assert.NoError(t, <-done)
	})
}

func TestRun_TriggersDuringPassCollapse(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := &fakePasser{gate: make(chan struct{})}
		c := New(p, Config{Interval: time.Hour}, testLogger())

		cancel, done := startRun(t, c)

		synctest.Wait()
		require.Equal(t, 1, p.count())

		for i := 0; i < 10; i++ {
			c.Trigger()
		}

		close(p.gate)
		synctest.Wait()

		assert.Equal(t, 2, p.count())

		cancel()
		assert.NoError(t, <-done)
	})
}

func TestRun_TriggerWakesIdleLoop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := &fakePasser{}
		c := New(p, Config{Interval: time.Hour}, testLogger())

		cancel, done := startRun(t, c)

		synctest.Wait()
		require.Equal(t, 1, p.count())

		c.Trigger()
		synctest.Wait()
		assert.Equal(t, 2, p.count())

		cancel()
		assert.NoError(t, <-done)
	})
}

func TestRun_FailedPassDoesNotStopTicks(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := &fakePasser{errs: []error{errors.New("boom"), errors.New("boom again")}}
		c := New(p, Config{Interval: 10 * time.Second}, testLogger())

		cancel, done := startRun(t, c)

		time.Sleep(25 * time.Second)
		synctest.Wait()

		assert.Equal(t, 3, p.count())

		st := c.Status()
		assert.Equal(t, int64(3), st.Passes)
		assert.Equal(t, int64(2), st.Failures)
		assert.Empty(t, st.LastError)
		require.NotNil(t, st.LastResult)
		assert.Equal(t, "3", st.LastResult.PassID)

		cancel()
		assert.NoError(t, <-done)
	})
}

func TestRun_CancelStopsLoop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		p := &fakePasser{}
		c := New(p, Config{Interval: time.Second}, testLogger())

		cancel, done := startRun(t, c)
		synctest.Wait()

		cancel()
		assert.NoError(t, <-done)

		n := p.count()
		time.Sleep(5 * time.Second)
		assert.Equal(t, n, p.count())
	})
}
