package supervisor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
)

// oneForAllMaxRestarts is a fixed restart cap, matching the reference
// implementation's hardcoded limit of three.
const oneForAllMaxRestarts = 3

// OneForAll restarts every current child whenever any one of them exits.
// The restart counter is global and capped at a fixed constant.
type OneForAll struct {
	agent        *agent.Agent
	logger       *zap.Logger
	children     []*child
	restartCount int
}

// NewOneForAll starts a one-for-all supervisor.
func NewOneForAll(logger *zap.Logger) *OneForAll {
	return &OneForAll{
		agent:  agent.New(logger.Named("supervisor-one-for-all")),
		logger: logger,
	}
}

// Agent exposes the supervisor's own agent for linking into an owner.
func (s *OneForAll) Agent() *agent.Agent { return s.agent }

// AddChild registers and immediately starts a new child under name.
func (s *OneForAll) AddChild(name string, factory Factory) error {
	fut := agent.Call(s.agent, func() (struct{}, error) {
		for _, c := range s.children {
			if c.name == name {
				return struct{}{}, fmt.Errorf("%w: %q", ErrChildExists, name)
			}
		}
		c := &child{name: name, factory: factory}
		s.children = append(s.children, c)
		s.startChild(c)
		return struct{}{}, nil
	})
	_, err := fut.Wait(context.Background())
	return err
}

// Get returns the currently live agent registered under name.
func (s *OneForAll) Get(name string) (*agent.Agent, error) {
	fut := agent.Call(s.agent, func() (*agent.Agent, error) {
		for _, c := range s.children {
			if c.name == name {
				if c.current == nil {
					return nil, fmt.Errorf("%w: %q", ErrChildNotFound, name)
				}
				return c.current, nil
			}
		}
		return nil, fmt.Errorf("%w: %q", ErrChildNotFound, name)
	})
	return fut.Wait(context.Background())
}

func (s *OneForAll) startChild(c *child) {
	a, err := c.factory(s.logger.Named(c.name))
	if err != nil {
		s.logger.Error("child construction failed", zap.String("child", c.name), zap.Error(err))
		c.current = nil
		// Deferred via Cast rather than called inline: startChild can run
		// from inside onAnyExit's own rebuild loop, and a synchronous call
		// here would reenter onAnyExit mid-iteration over s.children,
		// double-restarting siblings already rebuilt by the outer call.
		s.agent.Cast(func() { s.onAnyExit(c) })
		return
	}
	c.current = a
	a.Monitor(s.agent, func(exited *agent.Agent, cause error) {
		s.onChildExit(c, exited)
	})
}

func (s *OneForAll) onChildExit(c *child, exited *agent.Agent) {
	if c.current != exited {
		return
	}
	s.logger.Info("child exited, restarting all children", zap.String("child", c.name))
	s.onAnyExit(c)
}

// onAnyExit exits every child but trigger with ErrRestart, then rebuilds
// the entire set from factories.
func (s *OneForAll) onAnyExit(trigger *child) {
	s.restartCount++
	if s.restartCount > oneForAllMaxRestarts {
		s.logger.Error("restart intensity exceeded")
		s.agent.Exit(ErrTooManyRestarts)
		return
	}
	for _, c := range s.children {
		if c == trigger {
			continue
		}
		if c.current != nil {
			c.current.Exit(ErrRestart)
		}
	}
	for _, c := range s.children {
		s.startChild(c)
	}
}
