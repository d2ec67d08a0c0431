package eventbridge

import (
	"testing"

	"github.com/BranchManager69/degenduel-sub003/internal/events"
	"github.com/BranchManager69/degenduel-sub003/pkg/logging"
)

type fakeLifecycleBus struct {
	events []events.ServiceLifecycleEvent
}

func (f *fakeLifecycleBus) Publish(e events.ServiceLifecycleEvent) {
	f.events = append(f.events, e)
}

type fakeCircuitBus struct {
	events []events.CircuitTransitionEvent
}

func (f *fakeCircuitBus) Publish(e events.CircuitTransitionEvent) {
	f.events = append(f.events, e)
}

func newTestBridge() (*KafkaBridge, *fakeLifecycleBus, *fakeCircuitBus) {
	lifecycle := &fakeLifecycleBus{}
	circuit := &fakeCircuitBus{}
	b := NewKafkaBridge(nil, "domain-events", lifecycle, circuit, logging.NewLogger())
	return b, lifecycle, circuit
}

func TestHandleRoutesServiceLifecycleEvent(t *testing.T) {
	b, lifecycle, circuit := newTestBridge()

	raw := []byte(`{"kind":"service_lifecycle","payload":{"service":"wallet-svc","from":"started","to":"stopping"}}`)
	b.handle(raw)

	if len(lifecycle.events) != 1 {
		t.Fatalf("expected one lifecycle event published, got %d", len(lifecycle.events))
	}
	if lifecycle.events[0].Service != "wallet-svc" || lifecycle.events[0].To != events.ServiceStopping {
		t.Fatalf("unexpected lifecycle event: %+v", lifecycle.events[0])
	}
	if len(circuit.events) != 0 {
		t.Fatalf("expected no circuit events for a lifecycle record")
	}
}

func TestHandleRoutesCircuitTransitionEvent(t *testing.T) {
	b, lifecycle, circuit := newTestBridge()

	raw := []byte(`{"kind":"circuit_transition","payload":{"service":"market-data-svc","from":"closed","to":"open"}}`)
	b.handle(raw)

	if len(circuit.events) != 1 {
		t.Fatalf("expected one circuit event published, got %d", len(circuit.events))
	}
	if circuit.events[0].Service != "market-data-svc" || circuit.events[0].To != events.CircuitOpen {
		t.Fatalf("unexpected circuit event: %+v", circuit.events[0])
	}
	if len(lifecycle.events) != 0 {
		t.Fatalf("expected no lifecycle events for a circuit record")
	}
}

func TestHandleDiscardsMalformedEnvelope(t *testing.T) {
	b, lifecycle, circuit := newTestBridge()

	b.handle([]byte(`not json at all`))

	if len(lifecycle.events) != 0 || len(circuit.events) != 0 {
		t.Fatalf("expected malformed envelope to be discarded without publishing anything")
	}
}

func TestHandleDiscardsMalformedPayload(t *testing.T) {
	b, lifecycle, circuit := newTestBridge()

	b.handle([]byte(`{"kind":"circuit_transition","payload":"not-an-object"}`))

	if len(lifecycle.events) != 0 || len(circuit.events) != 0 {
		t.Fatalf("expected malformed payload to be discarded without publishing anything")
	}
}

func TestHandleDiscardsUnknownKind(t *testing.T) {
	b, lifecycle, circuit := newTestBridge()

	b.handle([]byte(`{"kind":"mystery","payload":{}}`))

	if len(lifecycle.events) != 0 || len(circuit.events) != 0 {
		t.Fatalf("expected unknown kind to be discarded without publishing anything")
	}
}
