package jobs

import (
	"container/heap"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// QueueConfig describes one named queue.
type QueueConfig struct {
	Name        string `yaml:"name"`
	Concurrency int    `yaml:"concurrency"`
	// Defaults override the broker defaults for jobs of this queue.
	Defaults Options `yaml:"defaults"`
	// KindTimeouts set per-kind execution deadlines; Defaults.Timeout applies otherwise.
	KindTimeouts map[Kind]time.Duration `yaml:"kindTimeouts"`
}

// QueueInfo describes a registered queue.
type QueueInfo struct {
	Name        string `json:"name"`
	Concurrency int    `json:"concurrency"`
	Kinds       []Kind `json:"kinds"`
}

type record struct {
	job          Job
	opts         Options
	seq          uint64
	index        int
	timer        *time.Timer
	lastProgress time.Time
	// link is the span of the submitting request
	link trace.SpanContext
}

// readyHeap orders waiting jobs by priority (higher first), then submission order.
type readyHeap []*record

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	r := x.(*record)
	r.index = len(*h)
	*h = append(*h, r)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}

type queue struct {
	cfg  QueueConfig
	mux  *Mux
	sem  *semaphore.Weighted
	wake chan struct{}

	mu        sync.Mutex
	jobs      map[string]*record
	ready     readyHeap
	completed []string
	failed    []string
	seq       uint64
}

func newQueue(cfg QueueConfig, mux *Mux) *queue {
	return &queue{
		cfg:  cfg,
		mux:  mux,
		sem:  semaphore.NewWeighted(int64(cfg.Concurrency)),
		wake: make(chan struct{}, 1),
		jobs: make(map[string]*record),
	}
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// schedule makes rec runnable after d. Caller holds q.mu.
func (q *queue) schedule(rec *record, d time.Duration) {
	if d <= 0 {
		q.push(rec)
		return
	}
	runAt := time.Now().Add(d)
	rec.job.State = StateDelayed
	rec.job.RunAt = &runAt
	rec.timer = time.AfterFunc(d, func() { q.promote(rec) })
}

// push appends rec to the ready heap. Caller holds q.mu.
func (q *queue) push(rec *record) {
	q.seq++
	rec.seq = q.seq
	rec.job.State = StateWaiting
	rec.job.RunAt = nil
	heap.Push(&q.ready, rec)
	q.signal()
}

func (q *queue) promote(rec *record) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.jobs[rec.job.ID] != rec || rec.job.State != StateDelayed {
		return
	}
	rec.timer = nil
	q.push(rec)
}

// take pops the next runnable job and marks it active, or returns nil when
// nothing is ready.
func (q *queue) take() (*record, Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ready.Len() == 0 {
		return nil, Job{}
	}
	rec := heap.Pop(&q.ready).(*record)
	now := time.Now()
	rec.job.State = StateActive
	rec.job.Attempt++
	rec.job.Progress = 0
	rec.job.StartedAt = &now
	rec.job.FinishedAt = nil
	return rec, rec.job
}

// retain records id as finished in list, then purges every entry that is no
// longer among the most recent keep entries, keep being read from that
// entry's own options. Caller holds q.mu.
func (q *queue) retain(list *[]string, id string, keep func(Options) int) {
	*list = append(*list, id)
	n := len(*list)
	kept := (*list)[:0]
	for i, jid := range *list {
		rec, ok := q.jobs[jid]
		if !ok {
			continue
		}
		if k := keep(rec.opts); k > 0 && n-i > k {
			delete(q.jobs, jid)
			continue
		}
		kept = append(kept, jid)
	}
	*list = kept
}

func keepCompleted(o Options) int { return o.RemoveOnComplete }
func keepFailed(o Options) int    { return o.RemoveOnFail }

// forget removes id from a finished list. Caller holds q.mu.
func forget(list *[]string, id string) {
	if i := slices.Index(*list, id); i >= 0 {
		*list = slices.Delete(*list, i, i+1)
	}
}

func (q *queue) metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	var m Metrics
	for _, rec := range q.jobs {
		switch rec.job.State {
		case StateWaiting:
			m.Waiting++
		case StateDelayed:
			m.Delayed++
		case StateActive:
			m.Active++
		case StateCompleted:
			m.Completed++
		case StateFailed:
			m.Failed++
		}
	}
	return m
}

func (q *queue) stopTimers() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, rec := range q.jobs {
		if rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
		}
	}
}

// resumeTimers re-arms delayed jobs whose timers were stopped.
func (q *queue) resumeTimers() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, rec := range q.jobs {
		if rec.job.State != StateDelayed || rec.timer != nil || rec.job.RunAt == nil {
			continue
		}
		q.schedule(rec, time.Until(*rec.job.RunAt))
	}
}

func (q *queue) info() QueueInfo {
	return QueueInfo{Name: q.cfg.Name, Concurrency: q.cfg.Concurrency, Kinds: q.mux.Kinds()}
}
