package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// SampleBlock is a chunk of interleaved float samples. A block is never
// mutated after being pushed into a SampleQueue.
type SampleBlock struct {
	Samples  []float32
	Channels int
}

// Frames is the number of sample frames (samples per channel) in the block.
func (b SampleBlock) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// QueueCapacity returns the number of blocks needed to buffer d worth of
// audio delivered by capture devices.
func QueueCapacity(d time.Duration) int {
	n := int(d / (periodSizeMS * time.Millisecond))
	if n < 1 {
		n = 1
	}
	return n
}

// SampleQueue is a bounded FIFO of sample blocks between the audio callback
// and the writer. Push never blocks: when the queue is full the block is
// dropped and counted.
type SampleQueue struct {
	c       chan SampleBlock
	pushed  atomic.Uint64
	dropped atomic.Uint64

	mtx    sync.RWMutex
	closed bool
}

// NewSampleQueue creates a queue that holds up to capacity blocks.
func NewSampleQueue(capacity int) *SampleQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleQueue{c: make(chan SampleBlock, capacity)}
}

// Push enqueues b. It returns false if the block was dropped because the
// queue is full or closed.
func (q *SampleQueue) Push(b SampleBlock) bool {
	q.mtx.RLock()
	defer q.mtx.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.c <- b:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop dequeues the next block, waiting up to timeout for one to arrive. After
// Close, the remaining blocks are still returned and ErrQueueClosed is
// returned once the queue is empty.
func (q *SampleQueue) Pop(timeout time.Duration) (SampleBlock, error) {
	select {
	case b, ok := <-q.c:
		if !ok {
			return SampleBlock{}, ErrQueueClosed
		}
		return b, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b, ok := <-q.c:
		if !ok {
			return SampleBlock{}, ErrQueueClosed
		}
		return b, nil
	case <-timer.C:
		return SampleBlock{}, ErrQueueTimeout
	}
}

// Close marks the end of the stream. Subsequent pushes are dropped. It is
// safe to call multiple times.
func (q *SampleQueue) Close() {
	q.mtx.Lock()
	if !q.closed {
		q.closed = true
		close(q.c)
	}
	q.mtx.Unlock()
}

// Len is the number of buffered blocks.
func (q *SampleQueue) Len() int { return len(q.c) }

// Cap is the capacity of the queue.
func (q *SampleQueue) Cap() int { return cap(q.c) }

// Pushed is the number of blocks accepted by the queue.
func (q *SampleQueue) Pushed() uint64 { return q.pushed.Load() }

// Dropped is the number of blocks dropped because the queue was full.
func (q *SampleQueue) Dropped() uint64 { return q.dropped.Load() }
