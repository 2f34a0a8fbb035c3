package runtime

import "sync"

// commandQueue is the thread-safe FIFO feeding a domain's single-writer
// loop. Unbounded, so ingress bursts enqueue without blocking; a buffered
// signal channel lets the loop wait with context awareness.
type commandQueue struct {
	mu     sync.Mutex
	cmds   []command
	closed bool
	signal chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		cmds:   make([]command, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// enqueue adds a command. Safe from any goroutine. Returns false once the
// queue is closed.
func (q *commandQueue) enqueue(c command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.cmds = append(q.cmds, c)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue pops the front command without blocking.
func (q *commandQueue) tryDequeue() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.cmds) == 0 {
		return command{}, false
	}
	c := q.cmds[0]
	q.cmds[0] = command{}
	if len(q.cmds) == 1 {
		q.cmds = q.cmds[:0]
	} else {
		q.cmds = q.cmds[1:]
	}
	return c, true
}

// wait returns the availability signal channel; it closes when the queue
// closes.
func (q *commandQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cmds)
}

// close stops accepting commands and wakes all waiters.
func (q *commandQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
