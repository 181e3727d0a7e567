// Package agent implements a small actor runtime: single-mailbox workers
// with cast/call semantics, bidirectional linking (fate-sharing), one-way
// monitoring, and linked one-shot subtasks.
package agent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAgentExited is returned to callers of Call, or used to resolve a
// Future, when the target agent has already exited.
var ErrAgentExited = errors.New("agent: exited")

// mailboxEntry is one enqueued unit of work. cancel is non-nil only for
// Call-originated entries; it resolves the caller's Future with
// ErrAgentExited when the entry is discarded unrun at Exit instead of
// being executed.
type mailboxEntry struct {
	fn     func()
	cancel func()
}

// Agent is a stateful worker with a private mailbox that processes
// enqueued thunks strictly in FIFO order on its own goroutine.
type Agent struct {
	ID     string
	logger *zap.Logger

	mailbox chan mailboxEntry
	exitCh  chan struct{}

	mu       sync.Mutex
	alive    bool
	cause    error
	links    map[*Agent]struct{}
	monitors map[*Agent]func(target *Agent, cause error)
	exitOnce sync.Once
}

// New starts a new agent draining its mailbox on a dedicated goroutine.
func New(logger *zap.Logger) *Agent {
	a := &Agent{
		ID:       uuid.NewString(),
		logger:   logger,
		mailbox:  make(chan mailboxEntry, 256),
		exitCh:   make(chan struct{}),
		alive:    true,
		links:    make(map[*Agent]struct{}),
		monitors: make(map[*Agent]func(*Agent, error)),
	}
	go a.run()
	return a
}

func (a *Agent) run() {
	for {
		select {
		case <-a.exitCh:
			return
		case entry := <-a.mailbox:
			a.runTask(entry.fn)
		}
	}
}

// enqueue atomically checks liveness and enqueues entry, so that a send can
// never land in the mailbox after (or concurrently racing with) Exit has
// already decided the agent is gone. Returns false if the agent had already
// exited, in which case entry is not enqueued.
func (a *Agent) enqueue(entry mailboxEntry) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.alive {
		return false
	}
	a.mailbox <- entry
	return true
}

// drainMailbox discards every entry currently queued, invoking cancel on
// each one that has it. Must run with a.mu held, after alive has been set
// to false, so no further entries can be enqueued concurrently.
func (a *Agent) drainMailbox() {
	for {
		select {
		case entry := <-a.mailbox:
			if entry.cancel != nil {
				entry.cancel()
			}
		default:
			return
		}
	}
}

// runTask executes one mailbox entry, treating a panic the same as an
// unhandled exception in the source material: it becomes the agent's exit
// cause.
func (a *Agent) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("agent: handler panic: %v", r)
			a.logger.Error("agent handler panicked", zap.Error(err))
			a.Exit(err)
		}
	}()
	fn()
}

// Alive reports whether the agent has not yet exited.
func (a *Agent) Alive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive
}

// Cause returns the exit cause, valid only once Alive() is false.
func (a *Agent) Cause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cause
}

// Done returns a channel closed exactly once, when the agent exits.
func (a *Agent) Done() <-chan struct{} {
	return a.exitCh
}

// Cast enqueues fn to run on the agent's mailbox. Non-blocking. If the
// agent has already exited, the cast is dropped silently. The liveness
// check and the enqueue happen under the same lock, so a cast can never
// land in the mailbox after the agent has already exited.
func (a *Agent) Cast(fn func()) {
	a.enqueue(mailboxEntry{fn: fn})
}

// Call enqueues fn on a's mailbox and resolves the returned future with its
// result. If a has already exited before the call is enqueued, the future
// is cancelled and resolves immediately with ErrAgentExited. If the agent
// exits after the call is enqueued but before it runs, Exit's drain
// cancels the same future the same way, so it is never left pending.
func Call[T any](a *Agent, fn func() (T, error)) *Future[T] {
	fut := NewFuture[T]()
	task := func() {
		v, err := fn()
		fut.Resolve(v, err)
	}
	cancel := func() {
		var zero T
		fut.Resolve(zero, ErrAgentExited)
	}
	if !a.enqueue(mailboxEntry{fn: task, cancel: cancel}) {
		cancel()
	}
	return fut
}

// BidirectionalLink links a and b so that either's exit triggers the
// other's, with the same cause, exactly once.
func BidirectionalLink(a, b *Agent) {
	a.mu.Lock()
	aAlive, aCause := a.alive, a.cause
	if aAlive {
		a.links[b] = struct{}{}
	}
	a.mu.Unlock()

	b.mu.Lock()
	bAlive, bCause := b.alive, b.cause
	if bAlive {
		b.links[a] = struct{}{}
	}
	b.mu.Unlock()

	switch {
	case !aAlive:
		b.Exit(aCause)
	case !bAlive:
		a.Exit(bCause)
	}
}

// Unlink removes any link between a and b without affecting either's
// liveness.
func Unlink(a, b *Agent) {
	a.mu.Lock()
	delete(a.links, b)
	a.mu.Unlock()
	b.mu.Lock()
	delete(b.links, a)
	b.mu.Unlock()
}

func (a *Agent) removeLink(peer *Agent) {
	a.mu.Lock()
	delete(a.links, peer)
	a.mu.Unlock()
}

// Monitor subscribes observer to a single death notification from a. The
// callback runs on observer's own mailbox. If a has already exited, the
// notification is delivered immediately (still via observer's mailbox).
func (a *Agent) Monitor(observer *Agent, onExit func(target *Agent, cause error)) {
	a.mu.Lock()
	if !a.alive {
		cause := a.cause
		a.mu.Unlock()
		observer.Cast(func() { onExit(a, cause) })
		return
	}
	a.monitors[observer] = onExit
	a.mu.Unlock()
}

// Exit idempotently terminates the agent: linked peers receive exit(cause)
// exactly once, monitors receive exactly one on_monitored_exit notification,
// and the mailbox is discarded.
func (a *Agent) Exit(cause error) {
	a.exitOnce.Do(func() {
		a.mu.Lock()
		a.alive = false
		a.cause = cause
		a.drainMailbox()
		links := make([]*Agent, 0, len(a.links))
		for l := range a.links {
			links = append(links, l)
		}
		monitors := make(map[*Agent]func(*Agent, error), len(a.monitors))
		for observer, cb := range a.monitors {
			monitors[observer] = cb
		}
		a.links = make(map[*Agent]struct{})
		a.monitors = make(map[*Agent]func(*Agent, error))
		a.mu.Unlock()

		close(a.exitCh)

		for _, peer := range links {
			peer.removeLink(a)
			peer.Exit(cause)
		}
		for observer, cb := range monitors {
			callback := cb
			observer.Cast(func() { callback(a, cause) })
		}
	})
}

// SpawnLinkedTask runs work as a one-shot child agent bidirectionally
// linked to a. If unlinkOnSuccess is true and work returns nil, the child
// unlinks from a before exiting; otherwise parent and child die together
// with work's result as the cause.
func (a *Agent) SpawnLinkedTask(logger *zap.Logger, work func() error, unlinkOnSuccess bool) *Agent {
	child := New(logger)
	BidirectionalLink(a, child)
	go func() {
		err := work()
		if err == nil && unlinkOnSuccess {
			Unlink(a, child)
			child.Exit(nil)
			return
		}
		child.Exit(err)
	}()
	return child
}
