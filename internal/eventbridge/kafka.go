// Package eventbridge is the optional Kafka ingestion edge for the Event
// Bus (C1): it decodes externally-produced domain events and republishes
// them onto the in-process bus, the way pkg/monitoring's KafkaConsumerHealthCheck
// treats a *kgo.Client as an attachable collaborator rather than something
// the hub owns end to end. The bridge never originates events itself and
// is a pure translation edge — disabled entirely when KAFKA_BROKERS is unset.
package eventbridge

import (
	"context"
	"encoding/json"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/BranchManager69/degenduel-sub003/internal/events"
	"github.com/BranchManager69/degenduel-sub003/pkg/logging"
)

// CircuitBusPublisher is the narrow slice of eventbus.Bus[events.CircuitTransitionEvent]
// the bridge needs.
type CircuitBusPublisher interface {
	Publish(events.CircuitTransitionEvent)
}

// LifecycleBusPublisher is the narrow slice of
// eventbus.Bus[events.ServiceLifecycleEvent] the bridge needs.
type LifecycleBusPublisher interface {
	Publish(events.ServiceLifecycleEvent)
}

// wireEvent is the on-wire envelope external producers publish; Kind
// selects which internal bus the decoded payload is republished onto.
type wireEvent struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// KafkaBridge consumes domain events from a single Kafka topic and
// republishes them onto the in-process event buses.
type KafkaBridge struct {
	client    *kgo.Client
	topic     string
	lifecycle LifecycleBusPublisher
	circuit   CircuitBusPublisher
	logger    logging.Logger
}

// NewKafkaBridge builds a bridge reading from topic using client, which
// the caller owns and must close.
func NewKafkaBridge(client *kgo.Client, topic string, lifecycle LifecycleBusPublisher, circuit CircuitBusPublisher, logger logging.Logger) *KafkaBridge {
	return &KafkaBridge{client: client, topic: topic, lifecycle: lifecycle, circuit: circuit, logger: logger}
}

// Run polls Kafka until ctx is done, decoding and republishing each
// record. Malformed records are logged and skipped rather than stalling
// the bridge or crashing the process.
func (b *KafkaBridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fetches := b.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			b.logger.WithError(err).WithField("topic", topic).Warn("kafka fetch error")
		})
		fetches.EachRecord(func(record *kgo.Record) {
			b.handle(record.Value)
		})
	}
}

func (b *KafkaBridge) handle(raw []byte) {
	var evt wireEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		b.logger.WithError(err).Warn("discarding malformed bridged event")
		return
	}

	switch evt.Kind {
	case "service_lifecycle":
		var payload events.ServiceLifecycleEvent
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			b.logger.WithError(err).Warn("discarding malformed service_lifecycle event")
			return
		}
		b.lifecycle.Publish(payload)
	case "circuit_transition":
		var payload events.CircuitTransitionEvent
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			b.logger.WithError(err).Warn("discarding malformed circuit_transition event")
			return
		}
		b.circuit.Publish(payload)
	default:
		b.logger.WithField("kind", evt.Kind).Warn("discarding event of unknown kind")
	}
}
