package sched

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/telic-run/telic/internal/ir"
)

// Task is one unit of schedulable work. The context is cancelled on
// Cancel, wall-clock timeout, or scheduler shutdown; tasks are expected to
// observe it at their suspension points.
type Task func(ctx context.Context) (ir.Value, error)

// ResourceStates exposes the lifecycle view the scheduler gates on. A
// resource registry satisfies it directly.
type ResourceStates interface {
	Get(id ir.ResourceID) (ir.Resource, ir.Lifecycle, bool)
}

// DefaultMaxConcurrentTasks bounds simultaneous dispatch when no explicit
// limit is configured.
const DefaultMaxConcurrentTasks = 4

// Handle identifies a submitted task and carries its outcome.
type Handle struct {
	seq          int64
	priority     uint8
	required     []ir.ResourceID
	deadlineStep int64
	timeout      time.Duration

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
	value     ir.Value
	err       error
	done      chan struct{}
}

// Seq returns the task's submission sequence number.
func (h *Handle) Seq() int64 { return h.seq }

// Done returns a channel closed when the task completes, fails, or is
// cancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result blocks until the task settles and returns its outcome.
func (h *Handle) Result() (ir.Value, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.err
}

func (h *Handle) complete(v ir.Value, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.value = v
	h.err = err
	close(h.done)
}

// SubmitOption configures one submission.
type SubmitOption func(*Handle)

// WithDeadlineStep fails the task with Timeout if the logical clock has
// passed step before the task dispatches. Deterministic: replays observe
// the same clock positions.
func WithDeadlineStep(step int64) SubmitOption {
	return func(h *Handle) { h.deadlineStep = step }
}

// WithWallTimeout bounds the task's wall-clock run time. Operational only;
// a wall timeout cancels the task cooperatively and never touches
// committed state.
func WithWallTimeout(d time.Duration) SubmitOption {
	return func(h *Handle) { h.timeout = d }
}

// Scheduler dispatches tasks over shared linear resources. Pending tasks
// are ordered by (priority desc, submission seq asc); a task dispatches
// only when every required resource is Live and unclaimed by another
// in-flight task. Observable state changes stay deterministic because all
// commits serialize through the domain's single writer; only the
// scheduling trace varies.
type Scheduler struct {
	states ResourceStates
	clock  *Clock
	log    *slog.Logger
	limit  int

	mu      sync.Mutex
	pending []queued
	running int
	claimed map[ir.ResourceID]int64
	closed  bool
	signal  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a scheduler.
type Option func(*Scheduler)

// WithMaxConcurrentTasks sets the dispatch bound.
func WithMaxConcurrentTasks(n int) Option {
	return func(s *Scheduler) { s.limit = n }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// New creates a scheduler gating on states and stamping submissions with
// clock.
func New(states ResourceStates, clock *Clock, opts ...Option) *Scheduler {
	s := &Scheduler{
		states:  states,
		clock:   clock,
		log:     slog.Default(),
		limit:   DefaultMaxConcurrentTasks,
		claimed: make(map[ir.ResourceID]int64),
		signal:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit queues a task. Thread-safe.
func (s *Scheduler) Submit(task Task, required []ir.ResourceID, priority uint8, opts ...SubmitOption) (*Handle, error) {
	h := &Handle{
		seq:      s.clock.Next(),
		priority: priority,
		required: append([]ir.ResourceID(nil), required...),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &Error{Code: CodeClosed, Message: "scheduler stopped"}
	}
	s.insertPending(h, task)
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Debug("task submitted", "seq", h.seq, "priority", priority, "required", len(required))
	s.wake()
	return h, nil
}

// tasks are carried beside their handles so a Handle stays inert data.
type queued struct {
	handle *Handle
	task   Task
}

func (s *Scheduler) insertPending(h *Handle, task Task) {
	idx := sort.Search(len(s.pending), func(i int) bool {
		p := s.pending[i].handle
		if p.priority != h.priority {
			return p.priority < h.priority
		}
		return p.seq > h.seq
	})
	s.pending = append(s.pending, queued{})
	copy(s.pending[idx+1:], s.pending[idx:])
	s.pending[idx] = queued{handle: h, task: task}
}

// Cancel requests cooperative cancellation. A pending task settles as
// Cancelled without running; a running task is cancelled at its next
// suspension point and its guards release there.
func (s *Scheduler) Cancel(h *Handle) {
	h.mu.Lock()
	h.cancelled = true
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wake()
}

// WaitAll blocks until every submitted task has settled.
func (s *Scheduler) WaitAll() {
	s.wg.Wait()
}

// Stop refuses further submissions. Run returns once in-flight and pending
// work has drained.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Scheduler) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Run is the dispatch loop. Must be called from exactly one goroutine;
// blocks until the context is cancelled or Stop drains the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler starting", "max_concurrent", s.limit)

	for {
		s.dispatch(ctx)

		s.mu.Lock()
		drained := s.closed && len(s.pending) == 0 && s.running == 0
		s.mu.Unlock()
		if drained {
			s.log.Info("scheduler stopping: drained")
			return nil
		}

		select {
		case <-ctx.Done():
			s.failPending(&Error{Code: CodeCancelled, Message: "scheduler shut down", Err: ctx.Err()})
			s.log.Info("scheduler stopping: context cancelled")
			return ctx.Err()
		case <-s.signal:
		}
	}
}

// dispatch starts every runnable pending task up to the concurrency bound.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < len(s.pending) && s.running < s.limit; {
		q := s.pending[i]
		h := q.handle

		h.mu.Lock()
		cancelled := h.cancelled
		h.mu.Unlock()
		if cancelled {
			s.removePending(i)
			h.complete(nil, &Error{Code: CodeCancelled, Message: "cancelled before dispatch", Task: h.seq})
			s.wg.Done()
			continue
		}

		if h.deadlineStep > 0 && s.clock.Current() > h.deadlineStep {
			s.removePending(i)
			h.complete(nil, &Error{Code: CodeTimeout, Message: "logical deadline passed before dispatch", Task: h.seq})
			s.wg.Done()
			continue
		}

		if !s.runnableLocked(h) {
			i++
			continue
		}

		s.removePending(i)
		s.claim(h)
		s.running++
		go s.runTask(ctx, q)
	}
}

// runnableLocked reports whether every required resource is Live and not
// claimed by another in-flight task.
func (s *Scheduler) runnableLocked(h *Handle) bool {
	for _, id := range h.required {
		if owner, ok := s.claimed[id]; ok && owner != h.seq {
			return false
		}
		if _, state, ok := s.states.Get(id); !ok || state != ir.Live {
			return false
		}
	}
	return true
}

func (s *Scheduler) claim(h *Handle) {
	for _, id := range h.required {
		s.claimed[id] = h.seq
	}
}

func (s *Scheduler) releaseClaims(h *Handle) {
	s.mu.Lock()
	for _, id := range h.required {
		if s.claimed[id] == h.seq {
			delete(s.claimed, id)
		}
	}
	s.running--
	s.mu.Unlock()
	s.wake()
}

func (s *Scheduler) runTask(ctx context.Context, q queued) {
	h := q.handle
	var tctx context.Context
	var cancel context.CancelFunc
	if h.timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, h.timeout)
	} else {
		tctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	h.mu.Lock()
	h.cancel = cancel
	alreadyCancelled := h.cancelled
	h.mu.Unlock()
	if alreadyCancelled {
		cancel()
	}

	value, err := q.task(tctx)
	if err != nil {
		switch {
		case tctx.Err() == context.DeadlineExceeded:
			err = &Error{Code: CodeTimeout, Message: "wall-clock limit exceeded", Task: h.seq, Err: err}
		case tctx.Err() != nil:
			err = &Error{Code: CodeCancelled, Message: "cancelled at suspension point", Task: h.seq, Err: err}
		}
		s.log.Warn("task failed", "seq", h.seq, "error", err)
	} else {
		s.log.Debug("task settled", "seq", h.seq)
	}

	h.complete(value, err)
	s.releaseClaims(h)
	s.wg.Done()
}

// failPending settles every queued task with err.
func (s *Scheduler) failPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, q := range pending {
		q.handle.complete(nil, err)
		s.wg.Done()
	}
}

func (s *Scheduler) removePending(i int) {
	copy(s.pending[i:], s.pending[i+1:])
	s.pending[len(s.pending)-1] = queued{}
	s.pending = s.pending[:len(s.pending)-1]
}
