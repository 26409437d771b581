package cdm

import "sync"

// dispatcher runs a session's notifications in arrival order on its own
// goroutine. Posting never blocks, so engine notification threads are never
// held up by the session.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// newDispatcher returns a dispatcher that queues but does not run
// functions until start is called.
func newDispatcher() *dispatcher {
	return &dispatcher{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (d *dispatcher) start() { go d.run() }

// post queues fn. It returns false once the dispatcher is closed.
func (d *dispatcher) post(fn func()) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// barrier returns once every function posted before it has run.
func (d *dispatcher) barrier() {
	reached := make(chan struct{})
	if !d.post(func() { close(reached) }) {
		return
	}
	select {
	case <-reached:
	case <-d.done:
	}
}

// close stops the goroutine; queued functions that have not started are
// dropped. It does not wait for a running function, so a callback may close
// its own session.
func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.queue = nil
	close(d.stop)
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		}
		for {
			d.mu.Lock()
			if d.stopped || len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			fn()
		}
	}
}
