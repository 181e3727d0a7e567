package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
)

func newTestScheduler(t *testing.T) gocron.Scheduler {
	t.Helper()
	sched, err := gocron.NewScheduler()
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	sched.Start()
	t.Cleanup(func() { _ = sched.Shutdown() })
	return sched
}

func echoFactory() Factory {
	return func(l *zap.Logger) (*agent.Agent, error) {
		return agent.New(l), nil
	}
}

func TestOneForOnePeriodReset(t *testing.T) {
	sched := newTestScheduler(t)
	sup := NewOneForOne(zap.NewNop(), sched, 1, 150*time.Millisecond)
	defer sup.Agent().Exit(nil)

	if err := sup.AddChild("worker", echoFactory()); err != nil {
		t.Fatalf("add child: %v", err)
	}

	explode := func() {
		a, err := sup.Get("worker")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		a.Exit(errors.New("boom"))
	}

	explode()
	time.Sleep(200 * time.Millisecond)
	explode()
	time.Sleep(50 * time.Millisecond)

	if !sup.Agent().Alive() {
		t.Fatalf("expected supervisor to survive restarts spaced beyond the reset period")
	}
}

func TestOneForOnePeriodFailure(t *testing.T) {
	sched := newTestScheduler(t)
	sup := NewOneForOne(zap.NewNop(), sched, 1, 150*time.Millisecond)

	if err := sup.AddChild("worker", echoFactory()); err != nil {
		t.Fatalf("add child: %v", err)
	}

	explode := func() {
		a, err := sup.Get("worker")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		a.Exit(errors.New("boom"))
	}

	explode()
	time.Sleep(100 * time.Millisecond)
	explode()
	time.Sleep(50 * time.Millisecond)

	if sup.Agent().Alive() {
		t.Fatalf("expected supervisor to exit with too many restarts")
	}
	if !errors.Is(sup.Agent().Cause(), ErrTooManyRestarts) {
		t.Fatalf("expected ErrTooManyRestarts, got %v", sup.Agent().Cause())
	}
}

func TestChildConstructionFailureCountsAsFailure(t *testing.T) {
	sched := newTestScheduler(t)
	sup := NewOneForOne(zap.NewNop(), sched, 2, time.Second)
	defer sup.Agent().Exit(nil)

	attempt := 0
	err := sup.AddChild("worker", func(l *zap.Logger) (*agent.Agent, error) {
		attempt++
		if attempt == 1 {
			return nil, errors.New("boom on first construction")
		}
		return agent.New(l), nil
	})
	if err != nil {
		t.Fatalf("add child: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if !sup.Agent().Alive() {
		t.Fatalf("expected supervisor to survive one counted construction failure")
	}
	worker, err := sup.Get("worker")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !worker.Alive() {
		t.Fatalf("expected worker to be alive after the retried construction")
	}
}

func TestOneForAllRestartPropagatesCause(t *testing.T) {
	sup := NewOneForAll(zap.NewNop())
	defer sup.Agent().Exit(nil)

	if err := sup.AddChild("a", echoFactory()); err != nil {
		t.Fatalf("add child a: %v", err)
	}
	if err := sup.AddChild("b", echoFactory()); err != nil {
		t.Fatalf("add child b: %v", err)
	}

	aAgent, err := sup.Get("a")
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	bBefore, err := sup.Get("b")
	if err != nil {
		t.Fatalf("get b: %v", err)
	}

	aAgent.Exit(errors.New("a exploded"))

	deadline := time.After(time.Second)
	for bBefore.Alive() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for sibling to be restarted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !errors.Is(bBefore.Cause(), ErrRestart) {
		t.Fatalf("expected sibling to exit with ErrRestart, got %v", bBefore.Cause())
	}
}

func TestOneForAllSiblingConstructionFailureDuringRebuild(t *testing.T) {
	sup := NewOneForAll(zap.NewNop())
	defer sup.Agent().Exit(nil)

	var aConstructions int
	aFactory := func(l *zap.Logger) (*agent.Agent, error) {
		aConstructions++
		return agent.New(l), nil
	}

	var bAttempt int
	bFactory := func(l *zap.Logger) (*agent.Agent, error) {
		bAttempt++
		if bAttempt == 2 {
			// Fails only on the rebuild triggered by a's exit, not on the
			// initial construction from AddChild.
			return nil, errors.New("boom on rebuild")
		}
		return agent.New(l), nil
	}

	if err := sup.AddChild("a", aFactory); err != nil {
		t.Fatalf("add child a: %v", err)
	}
	if err := sup.AddChild("b", bFactory); err != nil {
		t.Fatalf("add child b: %v", err)
	}

	aAgent, err := sup.Get("a")
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	aAgent.Exit(errors.New("a exploded"))

	deadline := time.After(time.Second)
	for {
		b, err := sup.Get("b")
		if err == nil && b.Alive() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for b to recover from its rebuild construction failure")
		case <-time.After(5 * time.Millisecond):
		}
	}

	time.Sleep(50 * time.Millisecond)
	if !sup.Agent().Alive() {
		t.Fatalf("expected supervisor to survive a sibling's construction failure mid-rebuild")
	}
	a, err := sup.Get("a")
	if err != nil {
		t.Fatalf("get a after rebuild: %v", err)
	}
	if !a.Alive() {
		t.Fatalf("expected a to be alive after the rebuild settled")
	}
	if bAttempt != 3 {
		t.Fatalf("expected b to be constructed 3 times (initial, failed rebuild, retried rebuild), got %d", bAttempt)
	}
	if aConstructions < 2 {
		t.Fatalf("expected a to be rebuilt at least once, got %d constructions", aConstructions)
	}
}

func TestOneForAllTooManyRestarts(t *testing.T) {
	sup := NewOneForAll(zap.NewNop())

	if err := sup.AddChild("a", echoFactory()); err != nil {
		t.Fatalf("add child: %v", err)
	}

	for i := 0; i < 6 && sup.Agent().Alive(); i++ {
		a, err := sup.Get("a")
		if err != nil {
			break
		}
		a.Exit(errors.New("boom"))
		time.Sleep(20 * time.Millisecond)
	}

	if sup.Agent().Alive() {
		t.Fatalf("expected supervisor to exit after exceeding restart intensity")
	}
	if !errors.Is(sup.Agent().Cause(), ErrTooManyRestarts) {
		t.Fatalf("expected ErrTooManyRestarts, got %v", sup.Agent().Cause())
	}
}
