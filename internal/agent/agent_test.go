package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func TestCastThenCallObservesCount(t *testing.T) {
	a := New(testLogger())
	defer a.Exit(nil)

	count := 0
	for i := 0; i < 3; i++ {
		a.Cast(func() { count++ })
	}

	fut := Call(a, func() (int, error) { return count, nil })
	got, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != 3 {
		t.Fatalf("expected count 3, got %d", got)
	}
}

func TestExitIsIdempotent(t *testing.T) {
	a := New(testLogger())
	cause := errors.New("boom")
	a.Exit(cause)
	a.Exit(errors.New("different"))
	if a.Cause().Error() != "boom" {
		t.Fatalf("expected first exit cause to stick, got %v", a.Cause())
	}
}

func TestCastAfterExitIsDropped(t *testing.T) {
	a := New(testLogger())
	a.Exit(nil)
	ran := false
	a.Cast(func() { ran = true })
	time.Sleep(20 * time.Millisecond)
	if ran {
		t.Fatalf("expected cast after exit to be dropped")
	}
}

func TestCallAfterExitCancels(t *testing.T) {
	a := New(testLogger())
	a.Exit(nil)
	fut := Call(a, func() (int, error) { return 1, nil })
	_, err := fut.Wait(context.Background())
	if !errors.Is(err, ErrAgentExited) {
		t.Fatalf("expected ErrAgentExited, got %v", err)
	}
}

func TestCallRacingExitIsNeverLeftPending(t *testing.T) {
	for i := 0; i < 200; i++ {
		a := New(testLogger())

		done := make(chan struct{})
		go func() {
			defer close(done)
			fut := Call(a, func() (int, error) { return 1, nil })
			_, err := fut.Wait(context.Background())
			if err != nil && !errors.Is(err, ErrAgentExited) {
				t.Errorf("unexpected call error: %v", err)
			}
		}()

		go a.Exit(errors.New("racing exit"))

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("call future left pending after a racing exit")
		}
	}
}

func TestBidirectionalLinkPropagatesExit(t *testing.T) {
	a := New(testLogger())
	b := New(testLogger())
	BidirectionalLink(a, b)

	cause := errors.New("a died")
	a.Exit(cause)

	deadline := time.After(time.Second)
	for b.Alive() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for linked peer to exit")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if b.Cause().Error() != cause.Error() {
		t.Fatalf("expected b's cause to match a's, got %v", b.Cause())
	}
}

func TestLinksAreSymmetric(t *testing.T) {
	a := New(testLogger())
	b := New(testLogger())
	BidirectionalLink(a, b)

	a.mu.Lock()
	_, aHasB := a.links[b]
	a.mu.Unlock()
	b.mu.Lock()
	_, bHasA := b.links[a]
	b.mu.Unlock()

	if !aHasB || !bHasA {
		t.Fatalf("expected symmetric link, a has b=%v b has a=%v", aHasB, bHasA)
	}
}

func TestMonitorReceivesExitNotification(t *testing.T) {
	target := New(testLogger())
	observer := New(testLogger())

	notified := make(chan error, 1)
	target.Monitor(observer, func(_ *Agent, cause error) {
		notified <- cause
	})

	cause := errors.New("target died")
	target.Exit(cause)

	select {
	case got := <-notified:
		if got.Error() != cause.Error() {
			t.Fatalf("expected cause %v, got %v", cause, got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for monitor notification")
	}
}

func TestMonitorDoesNotPropagateExit(t *testing.T) {
	target := New(testLogger())
	observer := New(testLogger())
	target.Monitor(observer, func(*Agent, error) {})

	target.Exit(errors.New("target died"))
	time.Sleep(20 * time.Millisecond)
	if !observer.Alive() {
		t.Fatalf("expected observer to remain alive after one-way monitor notification")
	}
}

func TestSpawnLinkedTaskSuccessUnlinks(t *testing.T) {
	parent := New(testLogger())
	defer parent.Exit(nil)

	done := make(chan struct{})
	child := parent.SpawnLinkedTask(testLogger(), func() error {
		close(done)
		return nil
	}, true)

	<-done
	time.Sleep(20 * time.Millisecond)
	if !parent.Alive() {
		t.Fatalf("expected parent to remain alive after successful unlink-on-success task")
	}
	if child.Alive() {
		t.Fatalf("expected child task to have exited")
	}
}

func TestSpawnLinkedTaskFailureKillsParent(t *testing.T) {
	parent := New(testLogger())
	cause := errors.New("task failed")

	parent.SpawnLinkedTask(testLogger(), func() error {
		return cause
	}, true)

	deadline := time.After(time.Second)
	for parent.Alive() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for parent to die with child")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if parent.Cause().Error() != cause.Error() {
		t.Fatalf("expected parent cause to match task failure, got %v", parent.Cause())
	}
}
