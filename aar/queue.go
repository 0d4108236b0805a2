package aar

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultSendSpacing is the minimum time between the start of two writes.
const DefaultSendSpacing = 50 * time.Millisecond

type writeFunc func(ctx context.Context, p []byte) error

// sendQueue serializes frames onto one characteristic. push never blocks;
// run drains the queue in FIFO order, awaiting each write before taking the
// next frame and never starting writes closer together than the spacing.
type sendQueue struct {
	write   writeFunc
	limiter *rate.Limiter
	log     *zap.Logger

	mu      sync.Mutex
	frames  []Frame
	sending bool
	wake    chan struct{}
}

func newSendQueue(write writeFunc, spacing time.Duration, log *zap.Logger) *sendQueue {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &sendQueue{
		write:   write,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		wake:    make(chan struct{}, 1),
	}
}

func (q *sendQueue) push(f Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop takes the oldest frame. sending stays true until the queue is seen empty.
func (q *sendQueue) pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		q.sending = false
		return nil, false
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	q.sending = true
	return f, true
}

// clear drops every pending frame and returns how many were dropped.
func (q *sendQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	q.frames = nil
	return n
}

func (q *sendQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *sendQueue) busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sending || len(q.frames) > 0
}

// run drains the queue until ctx is cancelled.
func (q *sendQueue) run(ctx context.Context) {
	for {
		f, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
		if err := q.write(ctx, f); err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Error("aar: write frame", zap.Binary("frame", f), zap.Error(err))
			continue
		}
		q.log.Debug("aar: frame written", zap.Binary("frame", f))
	}
}
