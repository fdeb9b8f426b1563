package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/storage"
)

func TestCheckpointerRotation(t *testing.T) {
	tests := []struct {
		fullEvery int
		want      []Mode
	}{
		{0, []Mode{ModeFull, ModeFull, ModeFull}},
		{1, []Mode{ModeFull, ModeFull, ModeFull}},
		{3, []Mode{ModeFull, ModeDifferential, ModeDifferential, ModeFull, ModeDifferential}},
	}
	for _, tt := range tests {
		e, _, _ := newMemoryEngine(t)
		c := NewCheckpointer(e, CheckpointerConfig{FullEvery: tt.fullEvery, Logger: discard})
		got := make([]Mode, 0, len(tt.want))
		for range tt.want {
			got = append(got, c.next())
		}
		assert.Equal(t, tt.want, got, "full every %d", tt.fullEvery)
	}
}

func TestCheckpointerRunOnce(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newMemoryEngine(t)
	_, err := e.CreateSubscription(ctx, subID(0), query(1), nil)
	require.NoError(t, err)

	c := NewCheckpointer(e, CheckpointerConfig{FullEvery: 2, Logger: discard})
	res, err := c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.LineageFull, res.Info.Lineage)
	assert.Equal(t, 1, res.Written)

	res, err = c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.LineageDifferential, res.Info.Lineage)
	assert.Zero(t, res.Written)
}

func TestCheckpointerBackground(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newMemoryEngine(t)
	_, err := e.CreateSubscription(ctx, subID(0), query(1), nil)
	require.NoError(t, err)

	c := NewCheckpointer(e, CheckpointerConfig{Interval: 10 * time.Millisecond, FullEvery: 4, Logger: discard})
	assert.Equal(t, 10*time.Millisecond, c.Interval())
	c.Start()
	c.Start()

	assert.Eventually(t, func() bool { return e.LastCheckpointSequence() >= 3 }, testTimeout, testTick)

	stopCtx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()
	require.NoError(t, c.Stop(stopCtx))
	require.NoError(t, c.Stop(stopCtx), "Stop is idempotent")

	seq := e.LastCheckpointSequence()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seq, e.LastCheckpointSequence(), "no checkpoints after Stop")
}

func TestCheckpointerSetInterval(t *testing.T) {
	e, _, _ := newMemoryEngine(t)
	c := NewCheckpointer(e, CheckpointerConfig{Interval: time.Hour, Logger: discard})
	c.Start()
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	c.SetInterval(0)
	assert.Equal(t, time.Hour, c.Interval(), "non-positive intervals are ignored")

	c.SetInterval(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, c.Interval())
	assert.Eventually(t, func() bool { return e.LastCheckpointSequence() >= 1 }, testTimeout, testTick)
}

func TestCheckpointerStopsOnUnload(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newMemoryEngine(t)
	c := NewCheckpointer(e, CheckpointerConfig{Interval: 5 * time.Millisecond, Logger: discard})
	c.Start()

	require.NoError(t, e.Unload(ctx))
	assert.Eventually(t, func() bool {
		select {
		case <-c.doneCh:
			return true
		default:
			return false
		}
	}, testTimeout, testTick)
	assert.NoError(t, c.Stop(ctx))
}

func TestCheckpointerStopWithoutStart(t *testing.T) {
	e, _, _ := newMemoryEngine(t)
	c := NewCheckpointer(e, CheckpointerConfig{Logger: discard})
	assert.Equal(t, DefaultCheckpointInterval, c.Interval())
	assert.NoError(t, c.Stop(context.Background()))
	c.Start()
	assert.NoError(t, c.Stop(context.Background()))
}
