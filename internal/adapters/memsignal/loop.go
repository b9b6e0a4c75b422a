package memsignal

import "sync"

// eventLoop runs posted callbacks one at a time in posting order, like the
// single-threaded event dispatch of a real transport. The queue is unbounded
// so callbacks may post without blocking on themselves.
type eventLoop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func newEventLoop() *eventLoop {
	l := &eventLoop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *eventLoop) post(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}

// flush blocks until everything posted before the call has run. It must
// not be called from a callback.
func (l *eventLoop) flush() {
	ch := make(chan struct{})
	l.post(func() { close(ch) })
	select {
	case <-ch:
	case <-l.done:
	}
}

// stop drains what is queued and ends the loop.
func (l *eventLoop) stop() {
	l.mu.Lock()
	l.closed = true
	l.cond.Signal()
	l.mu.Unlock()
	<-l.done
}
