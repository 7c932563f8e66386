package autorun

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"OpenBoBS/internal/orchestrator"
	"OpenBoBS/pkg/logger"
)

type blockingSubmitter struct {
	calls   atomic.Int32
	release chan struct{}
	texts   chan string
	err     error
}

func (b *blockingSubmitter) SubmitTask(ctx context.Context, text string) (orchestrator.Result, error) {
	b.calls.Add(1)
	select {
	case b.texts <- text:
	default:
	}
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
		}
	}
	return orchestrator.Result{Body: "ok"}, b.err
}

func TestIntervalClamp(t *testing.T) {
	assert.Equal(t, DefaultInterval, Interval(0))
	assert.Equal(t, MinInterval, Interval(3))
	assert.Equal(t, 90*time.Second, Interval(90))
	assert.Equal(t, MinInterval, New(&blockingSubmitter{}, "x", time.Second).interval)
}

func TestSchedulerSubmitsConfiguredTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	sub := &blockingSubmitter{texts: make(chan string, 4), err: errors.New("No agents enabled.")}
	s := New(sub, "  Create deterministic MVP plan ", MinInterval, WithLogger(logger.Discard()))
	s.interval = 5 * time.Millisecond

	require.True(t, s.Start(context.Background()))
	assert.False(t, s.Start(context.Background()))
	assert.True(t, s.Running())

	select {
	case text := <-sub.texts:
		assert.Equal(t, "Create deterministic MVP plan", text)
	case <-time.After(2 * time.Second):
		t.Fatal("auto-run never fired")
	}

	require.True(t, s.Stop())
	assert.False(t, s.Stop())
	assert.False(t, s.Running())

	st := s.Status()
	assert.GreaterOrEqual(t, st.Runs, int64(1))
	assert.Equal(t, "No agents enabled.", st.LastError)
	assert.False(t, st.LastRunAt.IsZero())
}

func TestSchedulerSkipsWhileBusy(t *testing.T) {
	defer goleak.VerifyNone(t)

	sub := &blockingSubmitter{release: make(chan struct{}), texts: make(chan string, 1)}
	s := New(sub, "task", MinInterval, WithLogger(logger.Discard()))
	s.interval = 2 * time.Millisecond

	require.True(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.Status().Skipped >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), sub.calls.Load())

	close(sub.release)
	require.True(t, s.Stop())
}
