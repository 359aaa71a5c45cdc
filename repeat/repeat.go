// Package repeat implements the RepeatLoop of spec.md §4.9/§5: a
// dedicated thread that periodically re-executes the last shell command,
// and drains the interpreter's stacked deferred-command queue (e.g. the
// "gc" command a GC-finish callback posts) on every wake. While armed,
// the wait uses github.com/joeycumines/go-longpoll's Channel helper so
// the wake is a single timed receive rather than a hand-rolled
// condition-variable wait; while unarmed it is a plain select.
package repeat

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	longpoll "github.com/joeycumines/go-longpoll"
	"github.com/sherlok-project/monitor-core/diag"
)

// Executor runs one command line, e.g. a command.Interpreter.
type Executor interface {
	Execute(command string) error
}

// queueCapacity bounds the stacked-command queue. Push never blocks
// (spec.md §5: "runtime callbacks never block on unbounded I/O"); once
// full, the oldest deferred command is dropped to make room.
const queueCapacity = 64

// Loop owns the stacked-command queue and the repeat cadence.
type Loop struct {
	executor Executor
	log      *diag.Logger

	queue chan string

	mu          sync.Mutex
	period      time.Duration
	lastCommand string
	armed       bool
}

// New constructs a Loop that executes commands via executor.
func New(executor Executor, log *diag.Logger) *Loop {
	return &Loop{
		executor: executor,
		log:      log,
		queue:    make(chan string, queueCapacity),
	}
}

// Arm sets the repeat cadence, per spec.md §4.9's "repeat [seconds]"
// verb. A period <= 0 disarms the loop (it keeps draining the stacked
// queue, but stops re-executing the last command).
func (l *Loop) Arm(period time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.period = period
	l.armed = period > 0
}

// Disarm stops periodic re-execution without affecting the queue.
func (l *Loop) Disarm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.armed = false
}

// SetLastCommand records the most recently executed shell command, the
// one the repeat loop re-runs on each armed wake.
func (l *Loop) SetLastCommand(command string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastCommand = command
}

func (l *Loop) snapshot() (period time.Duration, armed bool, lastCommand string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.period, l.armed, l.lastCommand
}

// Push enqueues a deferred command, e.g. from a runtime callback. It
// never blocks: if the queue is full, the oldest entry is dropped.
func (l *Loop) Push(command string) {
	select {
	case l.queue <- command:
		return
	default:
	}
	select {
	case <-l.queue:
	default:
	}
	select {
	case l.queue <- command:
	default:
	}
}

// PushGCReport implements dispatch.GCQueue: a GC-finish callback posts a
// deferred "gc" command and wakes the repeat loop (spec.md §4.7's "GC
// boundaries").
func (l *Loop) PushGCReport(gcIndex int64) {
	l.Push("gc")
}

// Close stops the loop's Run goroutine by closing the queue; Run returns
// nil once any already-queued commands have drained.
func (l *Loop) Close() {
	close(l.queue)
}

// Run blocks, waking on the configured period (if armed) or whenever a
// deferred command is pushed, until ctx is canceled or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		drained, err := l.wake(ctx)
		l.executeStacked(drained)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if _, armed, lastCommand := l.snapshot(); armed && lastCommand != "" {
			if err := l.executor.Execute(lastCommand); err != nil {
				l.log.Warning().Str("command", lastCommand).Err(err).Log("repeat: command failed")
			}
		}
	}
}

// wake blocks until either the configured period elapses (if armed) or a
// deferred command arrives, returning every deferred command received
// meanwhile (oldest first).
func (l *Loop) wake(ctx context.Context) ([]string, error) {
	period, armed, _ := l.snapshot()
	if !armed || period <= 0 {
		return l.waitUnarmed(ctx)
	}

	var drained []string
	err := longpoll.Channel(ctx, &longpoll.ChannelConfig{
		MaxSize:        -1,
		MinSize:        -1,
		PartialTimeout: period,
	}, l.queue, func(command string) error {
		drained = append(drained, command)
		return nil
	})
	return drained, err
}

// waitUnarmed blocks for the first deferred command (no repeat cadence
// configured), then drains whatever else is already queued without
// blocking further.
func (l *Loop) waitUnarmed(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case command, ok := <-l.queue:
		if !ok {
			return nil, io.EOF
		}
		drained := []string{command}
		for {
			select {
			case next, ok := <-l.queue:
				if !ok {
					return drained, nil
				}
				drained = append(drained, next)
			default:
				return drained, nil
			}
		}
	}
}

// executeStacked runs drained commands most-recently-pushed first,
// per spec.md §4.9's "LIFO queue of deferred commands".
func (l *Loop) executeStacked(drained []string) {
	for i := len(drained) - 1; i >= 0; i-- {
		if err := l.executor.Execute(drained[i]); err != nil {
			l.log.Warning().Str("command", drained[i]).Err(err).Log("repeat: deferred command failed")
		}
	}
}
