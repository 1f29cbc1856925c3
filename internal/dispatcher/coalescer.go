package dispatcher

import (
	"sync"
	"time"

	"github.com/bytedeck/unlock-engine/internal/queue"
)

// Coalescer collapses repeated invalidations of the same scope into one job.
// The first event for a scope key arms a timer; events arriving for the same
// key before the timer fires are absorbed. When the window elapses the job is
// emitted once. The job carries no event payload, only the scope, so the
// delayed emission always observes the state at execution time.
//
// A zero window disables coalescing and emits immediately.
type Coalescer struct {
	window time.Duration
	emit   func(*queue.Job)

	mu      sync.Mutex
	pending map[string]*pendingJob
	closed  bool
}

type pendingJob struct {
	timer *time.Timer
	job   *queue.Job
}

// NewCoalescer creates a coalescer that calls emit once per scope per window.
func NewCoalescer(window time.Duration, emit func(*queue.Job)) *Coalescer {
	if emit == nil {
		panic("dispatcher: emit callback cannot be nil")
	}
	return &Coalescer{
		window:  window,
		emit:    emit,
		pending: make(map[string]*pendingJob),
	}
}

// Schedule registers a job for the scope key. It returns true when the job
// was newly armed and false when an earlier job for the same scope absorbs it.
func (c *Coalescer) Schedule(key string, job *queue.Job) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if _, ok := c.pending[key]; ok {
		c.mu.Unlock()
		return false
	}

	if c.window <= 0 {
		c.mu.Unlock()
		c.emit(job)
		return true
	}

	p := &pendingJob{job: job}
	p.timer = time.AfterFunc(c.window, func() { c.fire(key) })
	c.pending[key] = p
	c.mu.Unlock()
	return true
}

// Pending reports how many scopes currently have an armed job.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coalescer) fire(key string) {
	c.mu.Lock()
	p, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()

	if ok {
		c.emit(p.job)
	}
}

// Flush emits every pending job immediately. Used on shutdown so armed
// invalidations are not lost with the process.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	drained := make([]*pendingJob, 0, len(c.pending))
	for key, p := range c.pending {
		if p.timer.Stop() {
			drained = append(drained, p)
		}
		delete(c.pending, key)
	}
	c.mu.Unlock()

	for _, p := range drained {
		c.emit(p.job)
	}
}

// Close stops accepting new jobs and flushes the pending ones.
func (c *Coalescer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Flush()
}
