package core

import (
	"context"
	"errors"
	"runtime"
	"time"
)

var (
	ErrLoopClosed = errors.New("event loop closed")
)

// Yielder suspends the training loop so the host can run other work.
// Implementations must not impose a minimum delay: a yield returns as
// soon as the host has had its turn.
type Yielder interface {
	Yield(ctx context.Context) error
}

// GoschedYielder yields the processor to other goroutines
type GoschedYielder struct{}

var _ Yielder = GoschedYielder{}

func (GoschedYielder) Yield(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}

// EventLoop is a single-consumer task queue shared by the trainer and the
// host (render, UI, control requests). Tasks run strictly in post order on
// the goroutine calling Run or RunPending. Yield posts a resume task and
// waits for it, so everything the host queued earlier runs first.
type EventLoop struct {
	tasks  chan func()
	closed chan struct{}
}

var _ Yielder = &EventLoop{}

func NewEventLoop(queueSize int) *EventLoop {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &EventLoop{
		tasks:  make(chan func(), queueSize),
		closed: make(chan struct{}),
	}
}

// Post queues fn. It blocks only while the queue is full.
func (l *EventLoop) Post(ctx context.Context, fn func()) error {
	select {
	case <-l.closed:
		return ErrLoopClosed
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.closed:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until ctx is done or Close is called
func (l *EventLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			return nil
		case fn := <-l.tasks:
			fn()
		}
	}
}

// RunPending executes the tasks queued at call time without blocking and
// returns how many ran. Hosts driving their own frame loop call it once per frame.
func (l *EventLoop) RunPending() int {
	n := len(l.tasks)
	for i := 0; i < n; i++ {
		select {
		case fn := <-l.tasks:
			fn()
		default:
			return i
		}
	}
	return n
}

func (l *EventLoop) Close() {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
}

func (l *EventLoop) Yield(ctx context.Context) error {
	resumed := make(chan struct{})
	if err := l.Post(ctx, func() { close(resumed) }); err != nil {
		return err
	}
	select {
	case <-resumed:
		return nil
	case <-l.closed:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// yieldSchedule decides when the episode loop should yield: after a fixed
// number of steps or a fixed wall-clock interval, whichever comes first.
type yieldSchedule struct {
	everySteps int
	interval   time.Duration
	now        func() time.Time

	steps int
	last  time.Time
}

func newYieldSchedule(everySteps int, interval time.Duration, now func() time.Time) *yieldSchedule {
	return &yieldSchedule{
		everySteps: everySteps,
		interval:   interval,
		now:        now,
		last:       now(),
	}
}

// Tick records one step and reports whether a yield is due
func (y *yieldSchedule) Tick() bool {
	y.steps++
	if y.everySteps > 0 && y.steps >= y.everySteps {
		return true
	}
	if y.interval > 0 && y.now().Sub(y.last) >= y.interval {
		return true
	}
	return false
}

// Yielded resets both counters
func (y *yieldSchedule) Yielded() {
	y.steps = 0
	y.last = y.now()
}
