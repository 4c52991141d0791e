package jobserver

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/masa-finance/lead-worker/api/types"
)

const (
	defaultMaxSize    = 1000
	defaultMaxAgeSecs = 600
)

type finishedEntry struct {
	uuid       string
	result     types.JobResult
	finishedAt time.Time
	element    *list.Element
}

// ResultCache holds what a client can poll for a job. Queued and running
// jobs are kept until they finish; finished results are bounded by count,
// dropping the oldest first, and by age counted from when the job finished.
type ResultCache struct {
	lock     sync.Mutex
	pending  map[string]types.Job
	finished map[string]*finishedEntry
	order    *list.List // oldest finish at Front
	maxSize  int
	maxAge   time.Duration
	nowFunc  func() time.Time
	done     chan struct{}
	once     sync.Once
}

func NewResultCache(maxSize int, maxAge time.Duration) *ResultCache {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAgeSecs * time.Second
	}
	rc := &ResultCache{
		pending:  make(map[string]types.Job),
		finished: make(map[string]*finishedEntry),
		order:    list.New(),
		maxSize:  maxSize,
		maxAge:   maxAge,
		nowFunc:  time.Now,
		done:     make(chan struct{}),
	}
	go rc.periodicCleanup()
	return rc
}

// SetClock replaces the time source. Only meant for tests.
func (rc *ResultCache) SetClock(now func() time.Time) {
	rc.lock.Lock()
	defer rc.lock.Unlock()
	rc.nowFunc = now
}

// Close stops the cleanup goroutine.
func (rc *ResultCache) Close() {
	rc.once.Do(func() { close(rc.done) })
}

// Counts returns how many jobs are still pending and how many finished
// results are held.
func (rc *ResultCache) Counts() (pending, finished int) {
	rc.lock.Lock()
	defer rc.lock.Unlock()
	return len(rc.pending), len(rc.finished)
}

// Pending records a job that was accepted but has not finished.
func (rc *ResultCache) Pending(j types.Job) {
	rc.lock.Lock()
	defer rc.lock.Unlock()
	rc.pending[j.UUID] = j
}

// Finish stores the final result of a job and stops tracking it as pending.
func (rc *ResultCache) Finish(result types.JobResult) {
	rc.lock.Lock()
	defer rc.lock.Unlock()
	result.Done = true
	rc.finishLocked(result)
}

// CancelPending finishes a job that is still pending with a cancellation
// error. It reports false when the job is unknown or already finished.
func (rc *ResultCache) CancelPending(uuid string) bool {
	rc.lock.Lock()
	defer rc.lock.Unlock()
	j, ok := rc.pending[uuid]
	if !ok {
		return false
	}
	rc.finishLocked(types.JobResult{Job: j, Done: true, Error: context.Canceled.Error()})
	return true
}

func (rc *ResultCache) finishLocked(result types.JobResult) {
	uuid := result.Job.UUID
	delete(rc.pending, uuid)
	if old, exists := rc.finished[uuid]; exists {
		rc.order.Remove(old.element)
	}
	entry := &finishedEntry{uuid: uuid, result: result, finishedAt: rc.nowFunc()}
	entry.element = rc.order.PushBack(entry)
	rc.finished[uuid] = entry

	for len(rc.finished) > rc.maxSize {
		oldest := rc.order.Front()
		e := oldest.Value.(*finishedEntry)
		delete(rc.finished, e.uuid)
		rc.order.Remove(oldest)
	}
}

// Get returns the job's current state: Done is false while it is pending.
func (rc *ResultCache) Get(uuid string) (types.JobResult, bool) {
	rc.lock.Lock()
	defer rc.lock.Unlock()
	if j, ok := rc.pending[uuid]; ok {
		return types.JobResult{Job: j}, true
	}
	entry, exists := rc.finished[uuid]
	if !exists {
		return types.JobResult{}, false
	}
	if rc.nowFunc().Sub(entry.finishedAt) > rc.maxAge {
		rc.order.Remove(entry.element)
		delete(rc.finished, uuid)
		return types.JobResult{}, false
	}
	return entry.result, true
}

func (rc *ResultCache) periodicCleanup() {
	ticker := time.NewTicker(rc.maxAge / 2)
	defer ticker.Stop()
	for {
		select {
		case <-rc.done:
			return
		case <-ticker.C:
			rc.cleanupExpired()
		}
	}
}

func (rc *ResultCache) cleanupExpired() {
	rc.lock.Lock()
	defer rc.lock.Unlock()
	cutoff := rc.nowFunc().Add(-rc.maxAge)
	// Finish times only grow along the list.
	for e := rc.order.Front(); e != nil; {
		entry := e.Value.(*finishedEntry)
		if !entry.finishedAt.Before(cutoff) {
			return
		}
		next := e.Next()
		delete(rc.finished, entry.uuid)
		rc.order.Remove(e)
		e = next
	}
}
