package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestScheduler_RunsJobs(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, zaptest.NewLogger(t))

	var ok, failing atomic.Int32
	require.NoError(t, s.Add(Job{
		Name: "tick",
		Spec: "@every 1s",
		Run: func(ctx context.Context) error {
			ok.Add(1)
			return nil
		},
	}))
	require.NoError(t, s.Add(Job{
		Name:    "broken",
		Spec:    "@every 1s",
		Timeout: time.Second,
		Run: func(ctx context.Context) error {
			failing.Add(1)
			return errors.New("boom")
		},
	}))

	s.Start()
	assert.Eventually(t, func() bool {
		return ok.Load() >= 1 && failing.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Stop(stopCtx)

	n := ok.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, n, ok.Load(), "no runs after stop")
}

func TestScheduler_Add(t *testing.T) {
	s := New(context.Background(), zap.NewNop())

	require.NoError(t, s.Add(Job{Name: "disabled", Run: func(context.Context) error { return nil }}))
	require.Error(t, s.Add(Job{Name: "bad", Spec: "not a spec", Run: func(context.Context) error { return nil }}))
}

func TestScheduler_LastSuccess(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, zaptest.NewLogger(t))

	before := time.Now()
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1s", Run: func(context.Context) error { return nil }}))
	require.NoError(t, s.Add(Job{Name: "broken", Spec: "@every 1s", Run: func(context.Context) error { return errors.New("boom") }}))
	require.NoError(t, s.Add(Job{Name: "off", Run: func(context.Context) error { return nil }}))

	added := s.LastSuccess("broken")
	assert.False(t, added.Before(before), "registration counts as a success")
	assert.True(t, s.LastSuccess("off").IsZero())
	assert.True(t, s.LastSuccess("unknown").IsZero())

	s.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		s.Stop(stopCtx)
	}()

	tickAdded := s.LastSuccess("tick")
	assert.Eventually(t, func() bool {
		return s.LastSuccess("tick").After(tickAdded)
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, added, s.LastSuccess("broken"), "failures keep the previous success")
}
