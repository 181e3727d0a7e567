// Package supervisor implements one-for-one and one-for-all restart
// policies over agent.Agent children, with restart-intensity windows.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
)

// ErrRestart is the exit cause a one-for-all supervisor gives to every
// surviving child when any one of them exits.
var ErrRestart = errors.New("supervisor: restart")

// ErrTooManyRestarts is the cause a supervisor exits with itself once its
// restart-intensity window is exceeded.
var ErrTooManyRestarts = errors.New("supervisor: too many restarts")

// ErrChildNotFound is returned by Get for an unregistered or no-longer-live
// child name.
var ErrChildNotFound = errors.New("supervisor: child not found")

// ErrChildExists is returned by AddChild for a name already registered.
var ErrChildExists = errors.New("supervisor: child already registered")

// Factory constructs a new child agent. A non-nil error is treated as an
// immediate failure of the child, exactly as if it had exited right after
// starting.
type Factory func(logger *zap.Logger) (*agent.Agent, error)

type child struct {
	name     string
	factory  Factory
	current  *agent.Agent
}

// OneForOne restarts only the child that exited. A single restart counter,
// shared across all children, is checked against max_restarts within
// period; exceeding it exits the supervisor itself with ErrTooManyRestarts.
// The counter resets to zero after period elapses with no new failures,
// via a single rescheduled gocron one-shot job — mirroring the source
// material's "retry_supervisor" reset-timer idiom rather than a sliding
// window of timestamps.
type OneForOne struct {
	agent       *agent.Agent
	logger      *zap.Logger
	scheduler   gocron.Scheduler
	maxRestarts int
	period      time.Duration

	children     map[string]*child
	restartCount int
	resetJob     gocron.Job
	onRestart    func(childName string)
}

// SetOnRestart installs a callback invoked every time a child is restarted,
// after the failure is recorded but before the child is relaunched — e.g.
// to increment a metrics counter labeled by child name.
func (s *OneForOne) SetOnRestart(fn func(childName string)) {
	s.agent.Cast(func() { s.onRestart = fn })
}

// NewOneForOne starts a one-for-one supervisor. scheduler must already be
// running (Start called by the owner, typically the cmd/bot or cmd/borg
// entrypoint that creates the scheduler).
func NewOneForOne(logger *zap.Logger, scheduler gocron.Scheduler, maxRestarts int, period time.Duration) *OneForOne {
	return &OneForOne{
		agent:       agent.New(logger.Named("supervisor-one-for-one")),
		logger:      logger,
		scheduler:   scheduler,
		maxRestarts: maxRestarts,
		period:      period,
		children:    make(map[string]*child),
	}
}

// Agent exposes the supervisor's own agent, so it can be linked into an
// owning bot shell.
func (s *OneForOne) Agent() *agent.Agent { return s.agent }

// AddChild registers and immediately starts a new child under name.
func (s *OneForOne) AddChild(name string, factory Factory) error {
	fut := agent.Call(s.agent, func() (struct{}, error) {
		if _, exists := s.children[name]; exists {
			return struct{}{}, fmt.Errorf("%w: %q", ErrChildExists, name)
		}
		c := &child{name: name, factory: factory}
		s.children[name] = c
		s.startChild(c)
		return struct{}{}, nil
	})
	_, err := fut.Wait(context.Background())
	return err
}

// Get returns the currently live agent registered under name.
func (s *OneForOne) Get(name string) (*agent.Agent, error) {
	fut := agent.Call(s.agent, func() (*agent.Agent, error) {
		c, ok := s.children[name]
		if !ok || c.current == nil {
			return nil, fmt.Errorf("%w: %q", ErrChildNotFound, name)
		}
		return c.current, nil
	})
	return fut.Wait(context.Background())
}

// startChild instantiates c's agent and monitors it. Must run on s.agent's
// own mailbox. A construction failure is treated as an immediate first
// failure of the child.
func (s *OneForOne) startChild(c *child) {
	a, err := c.factory(s.logger.Named(c.name))
	if err != nil {
		s.logger.Error("child construction failed", zap.String("child", c.name), zap.Error(err))
		c.current = nil
		s.recordFailureAndMaybeRestart(c)
		return
	}
	c.current = a
	a.Monitor(s.agent, func(exited *agent.Agent, cause error) {
		s.handleChildExit(c, exited, cause)
	})
}

// handleChildExit runs on s.agent's mailbox (Monitor delivers via Cast).
func (s *OneForOne) handleChildExit(c *child, exited *agent.Agent, cause error) {
	if c.current != exited {
		return // stale notification for a child we've already replaced
	}
	s.logger.Info("child exited", zap.String("child", c.name), zap.Error(cause))
	s.recordFailureAndMaybeRestart(c)
}

func (s *OneForOne) recordFailureAndMaybeRestart(c *child) {
	s.restartCount++
	s.scheduleReset()
	if s.restartCount > s.maxRestarts {
		s.logger.Error("restart intensity exceeded", zap.Int("max_restarts", s.maxRestarts))
		s.agent.Exit(ErrTooManyRestarts)
		return
	}
	if s.onRestart != nil {
		s.onRestart(c.name)
	}
	s.startChild(c)
}

// scheduleReset cancels any pending reset job and schedules a fresh one for
// s.period from now. Must run on s.agent's mailbox.
func (s *OneForOne) scheduleReset() {
	if s.scheduler == nil {
		return
	}
	if s.resetJob != nil {
		_ = s.scheduler.RemoveJob(s.resetJob.ID())
		s.resetJob = nil
	}
	job, err := s.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(s.period))),
		gocron.NewTask(func() {
			s.agent.Cast(func() {
				s.restartCount = 0
				s.resetJob = nil
			})
		}),
	)
	if err != nil {
		s.logger.Error("failed to schedule restart-intensity reset", zap.Error(err))
		return
	}
	s.resetJob = job
}
