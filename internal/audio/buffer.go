package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained.
var ErrQueueClosed = errors.New("frame queue closed")

// FrameQueue is a bounded circular queue of frames with a drop-oldest
// overflow policy. Push never blocks, so it is safe to call from the audio
// callback. It supports one producer and one consumer.
type FrameQueue struct {
	mu       sync.Mutex
	frames   []Frame
	size     int
	readPos  int
	count    int
	closed   bool
	closeErr error
	notify   chan struct{}
	dropped  atomic.Uint64
}

// NewFrameQueue creates a queue holding at most capacity frames
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		frames: make([]Frame, capacity),
		size:   capacity,
		notify: make(chan struct{}, 1),
	}
}

// Push appends a frame. If the queue is full the oldest frame is discarded
// and the drop counter incremented. Frames pushed after Close are ignored.
func (q *FrameQueue) Push(f Frame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if q.count == q.size {
		q.frames[q.readPos] = Frame{}
		q.readPos = (q.readPos + 1) % q.size
		q.count--
		q.dropped.Add(1)
	}
	q.frames[(q.readPos+q.count)%q.size] = f
	q.count++
	q.mu.Unlock()

	q.signal()
}

// TryPop removes the oldest frame without blocking.
func (q *FrameQueue) TryPop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Pop blocks until a frame is available, the queue is closed and drained, or
// ctx is done. After Close it keeps returning buffered frames, then the close
// error (ErrQueueClosed unless CloseWithError supplied another).
func (q *FrameQueue) Pop(ctx context.Context) (Frame, error) {
	for {
		q.mu.Lock()
		if f, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return f, nil
		}
		if q.closed {
			err := q.closeErr
			q.mu.Unlock()
			return Frame{}, err
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *FrameQueue) popLocked() (Frame, bool) {
	if q.count == 0 {
		return Frame{}, false
	}
	f := q.frames[q.readPos]
	q.frames[q.readPos] = Frame{}
	q.readPos = (q.readPos + 1) % q.size
	q.count--
	return f, true
}

// Close marks the queue closed. Buffered frames can still be popped.
func (q *FrameQueue) Close() {
	q.CloseWithError(ErrQueueClosed)
}

// CloseWithError closes the queue so that Pop returns err once drained.
// Only the first close takes effect.
func (q *FrameQueue) CloseWithError(err error) {
	if err == nil {
		err = ErrQueueClosed
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.closeErr = err
	q.mu.Unlock()

	q.signal()
}

func (q *FrameQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of buffered frames
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity
func (q *FrameQueue) Cap() int {
	return q.size
}

// Dropped returns how many frames were discarded because the queue was full.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// IsClosed reports whether Close has been called
func (q *FrameQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
