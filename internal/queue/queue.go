package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelhq/sentinel/internal/observability"
)

const DefaultDebounce = 3 * time.Second

var ErrClosed = errors.New("queue closed")

// Job is one unit of work for a key. It receives the queue context, which
// stays live until Close has drained every job.
type Job func(ctx context.Context)

// Queue debounces jobs per key and runs at most one job per key at a time.
// A job enqueued while another for the same key is running waits for it.
type Queue struct {
	debounce time.Duration
	log      *zap.Logger
	metrics  *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool
	wg     sync.WaitGroup
}

type slot struct {
	key     string
	pending Job
	timer   *time.Timer
	gen     uint64
	due     bool
	running bool
}

func New(debounce time.Duration, log *zap.Logger, metrics *observability.Metrics) *Queue {
	if debounce < 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		debounce: debounce,
		log:      log.Named("queue"),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		slots:    make(map[string]*slot),
	}
}

// Enqueue replaces any pending job for key and restarts its debounce timer.
func (q *Queue) Enqueue(key string, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	s, ok := q.slots[key]
	if !ok {
		s = &slot{key: key}
		q.slots[key] = s
	}
	if s.pending == nil {
		q.wg.Add(1)
	} else {
		q.log.Debug("coalesced pending job", zap.String("key", key))
	}
	s.pending = job
	s.due = false
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(q.debounce, func() { q.fire(s, gen) })

	q.reportPending()
	return nil
}

// Pending returns the number of keys holding a job that has not started.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

func (q *Queue) fire(s *slot, gen uint64) {
	q.mu.Lock()
	if s.gen != gen || s.pending == nil {
		q.mu.Unlock()
		return
	}
	if s.running {
		s.due = true
		q.mu.Unlock()
		return
	}
	job := s.pending
	s.pending = nil
	s.running = true
	q.reportPending()
	q.mu.Unlock()

	go q.run(s, job)
}

func (q *Queue) run(s *slot, job Job) {
	for {
		q.execute(s.key, job)
		q.wg.Done()

		q.mu.Lock()
		if s.pending != nil && s.due {
			job = s.pending
			s.pending = nil
			s.due = false
			q.reportPending()
			q.mu.Unlock()
			continue
		}
		s.running = false
		if s.pending == nil && q.slots[s.key] == s {
			delete(q.slots, s.key)
		}
		q.mu.Unlock()
		return
	}
}

func (q *Queue) execute(key string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("job panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	start := time.Now()
	job(q.ctx)
	q.log.Debug("job finished", zap.String("key", key), zap.Duration("duration", time.Since(start)))
}

// Close stops accepting jobs, starts every pending job without waiting
// for its debounce, and blocks until all jobs have finished.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	var flush []*slot
	for _, s := range q.slots {
		if s.pending != nil && s.timer != nil && s.timer.Stop() {
			flush = append(flush, s)
		}
	}
	gens := make([]uint64, len(flush))
	for i, s := range flush {
		gens[i] = s.gen
	}
	q.mu.Unlock()

	for i, s := range flush {
		q.fire(s, gens[i])
	}
	q.wg.Wait()
	q.cancel()
}

func (q *Queue) pendingLocked() int {
	n := 0
	for _, s := range q.slots {
		if s.pending != nil {
			n++
		}
	}
	return n
}

func (q *Queue) reportPending() {
	q.metrics.SetQueuePending(q.pendingLocked())
}
