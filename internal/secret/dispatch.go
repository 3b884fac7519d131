package secret

import (
	"sync"

	"github.com/rs/zerolog"
)

// notificationQueueSize bounds pending notifications; further ones are dropped
const notificationQueueSize = 16

type notification struct {
	record *Record
	err    error
}

// dispatcher delivers notifications off the refresh path, in order
type dispatcher struct {
	notifier Notifier
	queue    chan notification
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	logger   zerolog.Logger
}

func newDispatcher(n Notifier, logger zerolog.Logger) *dispatcher {
	d := &dispatcher{
		notifier: n,
		queue:    make(chan notification, notificationQueueSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   logger,
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(n notification) {
	select {
	case <-d.done:
		return
	default:
	}

	select {
	case d.queue <- n:
	default:
		d.logger.Warn().Msg("notification queue full, dropping notification")
	}
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.done:
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *dispatcher) deliver(n notification) {
	if n.err != nil {
		d.notifier.NotifyError(n.err)
		return
	}
	d.notifier.NotifyRotation(n.record)
}

// close delivers what is queued and stops the worker
func (d *dispatcher) close() {
	d.once.Do(func() { close(d.done) })
	<-d.stopped
}
