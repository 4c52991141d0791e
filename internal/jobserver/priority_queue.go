// Package jobserver queues acquisition jobs and runs them on a fixed pool of
// workers, keeping their results for polling.
package jobserver

import (
	"sync"
	"time"

	"github.com/masa-finance/lead-worker/api/types"
)

// PriorityQueue holds two queues of jobs. Jobs submitted with the priority
// flag go to the fast queue, which is always drained first.
type PriorityQueue struct {
	fastQueue chan *types.Job
	slowQueue chan *types.Job
	mu        sync.RWMutex
	closed    bool

	statsMu        sync.Mutex
	fastProcessed  int64
	slowProcessed  int64
	lastUpdateTime time.Time
}

// QueueStats is a snapshot of the queue depths and processed counts.
type QueueStats struct {
	FastQueueDepth int       `json:"fast_queue_depth"`
	SlowQueueDepth int       `json:"slow_queue_depth"`
	FastProcessed  int64     `json:"fast_processed"`
	SlowProcessed  int64     `json:"slow_processed"`
	LastUpdateTime time.Time `json:"last_update_time"`

	// Filled in by the job server from its result cache.
	PendingJobs int `json:"pending_jobs"`
	HeldResults int `json:"held_results"`
}

func NewPriorityQueue(fastQueueSize, slowQueueSize int) *PriorityQueue {
	return &PriorityQueue{
		fastQueue:      make(chan *types.Job, fastQueueSize),
		slowQueue:      make(chan *types.Job, slowQueueSize),
		lastUpdateTime: time.Now(),
	}
}

// Enqueue routes the job by its priority flag. It never blocks and returns
// ErrQueueFull when the target queue is at capacity.
func (pq *PriorityQueue) Enqueue(job *types.Job) error {
	if job.Priority {
		return pq.EnqueueFast(job)
	}
	return pq.EnqueueSlow(job)
}

func (pq *PriorityQueue) EnqueueFast(job *types.Job) error {
	return pq.enqueue(pq.fastQueue, job, true)
}

func (pq *PriorityQueue) EnqueueSlow(job *types.Job) error {
	return pq.enqueue(pq.slowQueue, job, false)
}

func (pq *PriorityQueue) enqueue(q chan *types.Job, job *types.Job, fast bool) error {
	// The read lock keeps Close from closing q while we send.
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	if pq.closed {
		return ErrQueueClosed
	}

	select {
	case q <- job:
		pq.updateStats(fast, false)
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue returns the next job without blocking, fast queue first.
func (pq *PriorityQueue) Dequeue() (*types.Job, error) {
	pq.mu.RLock()
	closed := pq.closed
	pq.mu.RUnlock()
	if closed {
		return nil, ErrQueueClosed
	}

	select {
	case job := <-pq.fastQueue:
		pq.updateStats(true, true)
		return job, nil
	default:
	}
	select {
	case job := <-pq.slowQueue:
		pq.updateStats(false, true)
		return job, nil
	default:
		return nil, ErrQueueEmpty
	}
}

// DequeueBlocking waits for the next job, fast queue first. It returns
// ErrQueueClosed once the queue is closed.
func (pq *PriorityQueue) DequeueBlocking() (*types.Job, error) {
	pq.mu.RLock()
	closed := pq.closed
	pq.mu.RUnlock()
	if closed {
		return nil, ErrQueueClosed
	}

	select {
	case job, ok := <-pq.fastQueue:
		if !ok {
			return nil, ErrQueueClosed
		}
		pq.updateStats(true, true)
		return job, nil
	default:
	}

	select {
	case job, ok := <-pq.fastQueue:
		if !ok {
			return nil, ErrQueueClosed
		}
		pq.updateStats(true, true)
		return job, nil
	case job, ok := <-pq.slowQueue:
		if !ok {
			return nil, ErrQueueClosed
		}
		pq.updateStats(false, true)
		return job, nil
	}
}

// Close stops accepting jobs and wakes every blocked DequeueBlocking call.
// It is idempotent.
func (pq *PriorityQueue) Close() {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if !pq.closed {
		pq.closed = true
		close(pq.fastQueue)
		close(pq.slowQueue)
	}
}

func (pq *PriorityQueue) GetStats() QueueStats {
	pq.statsMu.Lock()
	defer pq.statsMu.Unlock()

	return QueueStats{
		FastQueueDepth: len(pq.fastQueue),
		SlowQueueDepth: len(pq.slowQueue),
		FastProcessed:  pq.fastProcessed,
		SlowProcessed:  pq.slowProcessed,
		LastUpdateTime: pq.lastUpdateTime,
	}
}

func (pq *PriorityQueue) updateStats(isFast bool, isDequeue bool) {
	pq.statsMu.Lock()
	defer pq.statsMu.Unlock()

	if isDequeue {
		if isFast {
			pq.fastProcessed++
		} else {
			pq.slowProcessed++
		}
	}
	pq.lastUpdateTime = time.Now()
}
