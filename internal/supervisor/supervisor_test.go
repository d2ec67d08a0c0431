package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BranchManager69/degenduel-sub003/internal/events"
	"github.com/BranchManager69/degenduel-sub003/pkg/logging"
)

type fakeEventBus struct {
	mu         sync.Mutex
	lifecycles []events.ServiceLifecycleEvent
}

func (f *fakeEventBus) Publish(evt events.ServiceLifecycleEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lifecycles = append(f.lifecycles, evt)
}

func (f *fakeEventBus) count(service string, to events.ServiceState) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.lifecycles {
		if e.Service == service && e.To == to {
			n++
		}
	}
	return n
}

func newTestSupervisor(bus *fakeEventBus) *Supervisor {
	return New(logging.NewLogger(), bus, nil, 50*time.Millisecond)
}

func TestStartBringsUpInDependencyOrder(t *testing.T) {
	bus := &fakeEventBus{}
	s := newTestSupervisor(bus)

	var mu sync.Mutex
	var startOrder []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			startOrder = append(startOrder, name)
			mu.Unlock()
			return nil
		}
	}

	s.Register("db", nil, Hooks{Start: record("db")})
	s.Register("api", []string{"db"}, Hooks{Start: record("api")})

	report, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("expected no failures, got %v", report.Failed)
	}

	if len(startOrder) != 2 || startOrder[0] != "db" || startOrder[1] != "api" {
		t.Fatalf("expected db to start before api, got %v", startOrder)
	}

	state, ok := s.State("api")
	if !ok || state != events.ServiceStarted {
		t.Fatalf("expected api to be started, got %v", state)
	}
}

func TestStartFailsDependentsWhenDependencyFails(t *testing.T) {
	bus := &fakeEventBus{}
	s := newTestSupervisor(bus)

	s.Register("db", nil, Hooks{Init: func(context.Context) error { return errors.New("connect refused") }})
	s.Register("api", []string{"db"}, Hooks{})

	report, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(report.Failed) != 2 {
		t.Fatalf("expected both db and its dependent api to be marked failed, got %v", report.Failed)
	}

	apiState, _ := s.State("api")
	if apiState != events.ServiceFailed {
		t.Fatalf("expected api to be failed because its dependency failed, got %v", apiState)
	}
}

func TestStartDetectsDependencyCycle(t *testing.T) {
	s := newTestSupervisor(&fakeEventBus{})
	s.Register("a", []string{"b"}, Hooks{})
	s.Register("b", []string{"a"}, Hooks{})

	_, err := s.Start(context.Background())
	if err == nil {
		t.Fatalf("expected a dependency cycle error")
	}
}

func TestStartRejectsUnregisteredDependency(t *testing.T) {
	s := newTestSupervisor(&fakeEventBus{})
	s.Register("api", []string{"ghost"}, Hooks{})

	_, err := s.Start(context.Background())
	if err == nil {
		t.Fatalf("expected an error referencing the unregistered dependency")
	}
}

func TestStopTearsDownInReverseOrder(t *testing.T) {
	bus := &fakeEventBus{}
	s := newTestSupervisor(bus)

	var mu sync.Mutex
	var stopOrder []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			stopOrder = append(stopOrder, name)
			mu.Unlock()
			return nil
		}
	}

	s.Register("db", nil, Hooks{Stop: record("db")})
	s.Register("api", []string{"db"}, Hooks{Stop: record("api")})

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	s.Stop(context.Background())

	if len(stopOrder) != 2 || stopOrder[0] != "api" || stopOrder[1] != "db" {
		t.Fatalf("expected api to stop before db, got %v", stopOrder)
	}
}

func TestStopAbandonsServiceExceedingDeadline(t *testing.T) {
	bus := &fakeEventBus{}
	s := newTestSupervisor(bus)

	block := make(chan struct{})
	s.Register("slow", nil, Hooks{Stop: func(ctx context.Context) error {
		<-block
		return nil
	}})

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Stop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Stop to return within the bounded stop deadline")
	}
	close(block)

	if bus.count("slow", events.ServiceStopped) != 1 {
		t.Fatalf("expected a stopped transition to be published even for the abandoned service")
	}
}

func TestMetricsSnapshotReflectsServiceStates(t *testing.T) {
	s := newTestSupervisor(&fakeEventBus{})
	s.Register("db", nil, Hooks{})
	s.Register("api", []string{"db"}, Hooks{})

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	snap := s.MetricsSnapshot()
	if snap.Services["db"] != events.ServiceStarted || snap.Services["api"] != events.ServiceStarted {
		t.Fatalf("expected both services reported started in the snapshot, got %+v", snap.Services)
	}
}
