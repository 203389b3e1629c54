package sched

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLoopStopped is returned by Post once Run has returned.
var ErrLoopStopped = errors.New("sched: loop stopped")

// Loop is a wall-clock event loop. Timers and posted functions run on the
// goroutine that calls Run.
type Loop struct {
	mu     sync.Mutex
	timers timerQueue

	posts chan func()
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewLoop creates a loop. Call Run to start dispatching.
func NewLoop() *Loop {
	return &Loop{
		timers: newTimerQueue(),
		posts:  make(chan func(), 256),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

func (l *Loop) After(d time.Duration, fn func()) Handle {
	l.mu.Lock()
	h := l.timers.add(time.Now().Add(d), fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return h
}

func (l *Loop) Cancel(h Handle) {
	l.mu.Lock()
	l.timers.cancel(h)
	l.mu.Unlock()
}

// Post queues fn to run on the loop goroutine. It is the only safe way for
// other goroutines to reach state owned by loop callbacks.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	select {
	case l.posts <- fn:
		return nil
	case <-l.done:
		return ErrLoopStopped
	}
}

// Run dispatches timers and posted functions until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })

	idle := time.NewTimer(time.Hour)
	defer idle.Stop()

	for {
		l.fireDue()

		wait := time.Hour
		l.mu.Lock()
		if next, ok := l.timers.nextDeadline(); ok {
			wait = max(0, time.Until(next))
		}
		l.mu.Unlock()

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.posts:
			fn()
		case <-l.wake:
		case <-idle.C:
		}
	}
}

func (l *Loop) fireDue() {
	for {
		l.mu.Lock()
		t := l.timers.popDue(time.Now())
		l.mu.Unlock()
		if t == nil {
			return
		}
		t.fn()
	}
}
