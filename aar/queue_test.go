package aar

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	frames [][]byte
	active int
	peak   int
}

func (r *recorder) write(_ context.Context, p []byte) error {
	r.mu.Lock()
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	r.mu.Unlock()

	time.Sleep(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
	r.frames = append(r.frames, append([]byte(nil), p...))
	return nil
}

func (r *recorder) snapshot() ([][]byte, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...), r.peak
}

func TestSendQueueDrainsInOrderOneAtATime(t *testing.T) {
	rec := &recorder{}
	q := newSendQueue(rec.write, 0, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var want [][]byte
	for i := 0; i < 50; i++ {
		f := Frame{OpSetPower, 1, byte(i)}
		q.push(f)
		want = append(want, f)
	}
	go q.run(ctx)

	require.Eventually(t, func() bool {
		got, _ := rec.snapshot()
		return len(got) == len(want)
	}, 2*time.Second, time.Millisecond)

	got, peak := rec.snapshot()
	assert.Equal(t, want, got)
	assert.Equal(t, 1, peak)
	require.Eventually(t, func() bool { return !q.busy() }, time.Second, time.Millisecond)
}

func TestSendQueueWakesOnPush(t *testing.T) {
	rec := &recorder{}
	q := newSendQueue(rec.write, time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.run(ctx)

	time.Sleep(5 * time.Millisecond)
	q.push(Frame{OpStartMotor, 0})

	require.Eventually(t, func() bool {
		got, _ := rec.snapshot()
		return len(got) == 1
	}, time.Second, time.Millisecond)
}

func TestSendQueueClear(t *testing.T) {
	q := newSendQueue((&recorder{}).write, 0, zap.NewNop())
	q.push(Frame{OpStartMotor, 1})
	q.push(Frame{OpStopMotor, 1})

	assert.Equal(t, 2, q.pending())
	assert.True(t, q.busy())
	assert.Equal(t, 2, q.clear())
	assert.Zero(t, q.pending())
	assert.False(t, q.busy())
}

func TestSendQueueStopsOnCancel(t *testing.T) {
	q := newSendQueue((&recorder{}).write, time.Hour, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.run(ctx)
		close(done)
	}()

	q.push(Frame{OpStartMotor, 1})
	q.push(Frame{OpStartMotor, 2})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after cancel")
	}
}
