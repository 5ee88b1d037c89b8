package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidation(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	t.Run("missing owner", func(t *testing.T) {
		_, err := s.Register("", "job", "@hourly", noop)
		assert.ErrorIs(t, err, ErrMissingOwner)
	})

	t.Run("nil callback", func(t *testing.T) {
		_, err := s.Register("owner", "job", "@hourly", nil)
		assert.ErrorIs(t, err, ErrNilCallback)
	})

	t.Run("invalid spec", func(t *testing.T) {
		_, err := s.Register("owner", "job", "not a cron line", noop)
		assert.ErrorIs(t, err, ErrInvalidSpec)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("valid specs", func(t *testing.T) {
		for _, spec := range []string{"0 * * * *", "*/5 9-17 * * MON-FRI", "@daily", "@every 90s"} {
			id, err := s.Register("owner", "job", spec, noop)
			require.NoError(t, err, spec)
			assert.NotEmpty(t, id)
		}
		assert.Equal(t, 4, s.Len())
	})
}

func TestEntriesDescribeSchedule(t *testing.T) {
	s := New(WithLocation(time.UTC))
	noop := func(context.Context) error { return nil }

	idB, err := s.Register("memes", "post", "@hourly", noop)
	require.NoError(t, err)
	idA, err := s.Register("images", "post", "0 12 * * *", noop)
	require.NoError(t, err)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, idA, entries[0].ID)
	assert.Equal(t, "images", entries[0].Owner)
	assert.Equal(t, "0 12 * * *", entries[0].Spec)
	assert.Equal(t, idB, entries[1].ID)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		e, ok := s.Entry(idA)
		return ok && !e.Next.IsZero()
	}, time.Second, 10*time.Millisecond)

	e, _ := s.Entry(idA)
	assert.Equal(t, 12, e.Next.In(time.UTC).Hour())
	assert.Equal(t, 0, e.Next.Minute())
}

func TestFailingInvocationDoesNotStopEntry(t *testing.T) {
	s := New()
	var calls atomic.Int32

	id, err := s.Register("poster", "post", "@hourly", func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("upload failed")
		}
		return nil
	})
	require.NoError(t, err)

	first, err := s.Trigger(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, first.Status)
	assert.ErrorIs(t, first.Err, ErrInvocation)
	assert.True(t, first.Manual)

	second, err := s.Trigger(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, second.Status)
	assert.NoError(t, second.Err)

	assert.Equal(t, 1, s.Len())
	history := s.History(id)
	require.Len(t, history, 2)
	assert.Equal(t, ExecutionFailed, history[0].Status)
	assert.Equal(t, ExecutionCompleted, history[1].Status)
}

func TestPanickingInvocationIsRecovered(t *testing.T) {
	s := New()
	var other atomic.Int32

	bad, err := s.Register("a", "explode", "@hourly", func(context.Context) error {
		panic("boom")
	})
	require.NoError(t, err)
	good, err := s.Register("b", "count", "@hourly", func(context.Context) error {
		other.Add(1)
		return nil
	})
	require.NoError(t, err)

	var exec Execution
	require.NotPanics(t, func() {
		exec, err = s.Trigger(context.Background(), bad)
	})
	require.NoError(t, err)
	assert.ErrorIs(t, exec.Err, ErrCallbackPanic)
	assert.ErrorIs(t, exec.Err, ErrInvocation)

	_, err = s.Trigger(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, int32(1), other.Load())
}

func TestScheduledTicksKeepFiringAfterFailure(t *testing.T) {
	s := New()
	var failing, healthy atomic.Int32

	_, err := s.Register("broken", "fail", "@every 1s", func(context.Context) error {
		failing.Add(1)
		return errors.New("always fails")
	})
	require.NoError(t, err)
	_, err = s.Register("healthy", "ok", "@every 1s", func(context.Context) error {
		healthy.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return failing.Load() >= 2 && healthy.Load() >= 2
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRemoveOwner(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	a1, _ := s.Register("a", "one", "@hourly", noop)
	_, _ = s.Register("a", "two", "@daily", noop)
	b1, _ := s.Register("b", "one", "@hourly", noop)

	_, err := s.Trigger(context.Background(), a1)
	require.NoError(t, err)

	assert.Equal(t, 2, s.RemoveOwner("a"))
	assert.Equal(t, 0, s.RemoveOwner("a"))
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.History(a1))

	_, ok := s.Entry(b1)
	assert.True(t, ok)

	_, err = s.Trigger(context.Background(), a1)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRemove(t *testing.T) {
	s := New()
	id, err := s.Register("a", "one", "@hourly", func(context.Context) error { return nil })
	require.NoError(t, err)

	require.NoError(t, s.Remove(id))
	assert.ErrorIs(t, s.Remove(id), ErrEntryNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestHistoryLimit(t *testing.T) {
	s := New(WithHistoryLimit(3))
	id, err := s.Register("a", "one", "@hourly", func(context.Context) error { return nil })
	require.NoError(t, err)

	for range 5 {
		_, err := s.Trigger(context.Background(), id)
		require.NoError(t, err)
	}
	assert.Len(t, s.History(id), 3)
}

func TestStartStop(t *testing.T) {
	s := New()
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	s.Stop()
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestCallbackContextCancelledOnStop(t *testing.T) {
	s := New()
	started := make(chan struct{})
	done := make(chan error, 4)

	_, err := s.Register("a", "wait", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("callback did not start")
	}
	s.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("callback context was not cancelled")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(WithMetrics(reg))

	id, err := s.Register("poster", "post", "@hourly", func(context.Context) error {
		return errors.New("nope")
	})
	require.NoError(t, err)
	_, err = s.Trigger(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.invocations.WithLabelValues("poster", "post", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.entries))

	// a second scheduler on the same registry keeps working without metrics
	other := New(WithMetrics(reg))
	assert.Nil(t, other.metrics)
}

func TestMetricsRegistrationFailureLeavesNothingBehind(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mastobot_scheduler_invocation_duration_seconds",
		Help: "taken",
	}))

	s := New(WithMetrics(reg))
	assert.Nil(t, s.metrics)

	// the invocations counter registered before the failure was rolled back
	err := reg.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mastobot",
		Subsystem: "scheduler",
		Name:      "invocations_total",
		Help:      "Scheduled callback invocations by owner, entry and outcome.",
	}, []string{"owner", "entry", "outcome"}))
	assert.NoError(t, err)
}
