package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fleetcode/orchestrator/events/pulseclient"
)

// streamName is the single Pulse stream carrying every published Event. A
// single stream keeps ordering simple (Redis stream entries are totally
// ordered) at the cost of fanning every subscriber out over every event;
// that trade-off matches the single-host, multi-process scope of this
// package — see spec.md's non-goal on distributed orchestration.
const streamName = "orchestrator:events"

// PulseBus is a cross-process Bus backed by a Pulse/Redis stream. Unlike the
// in-process Bus, it lets a separate process (a UI, an auditor) observe
// Progress and lifecycle events without being in the orchestrator's address
// space.
//
// Delivery is at-least-once and unordered across subscribers registered at
// different times; each subscriber reads from its own consumer group so a
// slow subscriber never blocks another.
type PulseBus struct {
	client pulseclient.Client
	stream pulseclient.Stream

	mu   sync.Mutex
	next int
}

// NewPulseBus constructs a PulseBus using client, opening (or reusing) the
// shared orchestrator event stream.
func NewPulseBus(client pulseclient.Client) (*PulseBus, error) {
	if client == nil {
		return nil, fmt.Errorf("pulse client is required")
	}
	stream, err := client.Stream(streamName)
	if err != nil {
		return nil, fmt.Errorf("open orchestrator event stream: %w", err)
	}
	return &PulseBus{client: client, stream: stream}, nil
}

// Publish encodes event as JSON and appends it to the shared stream.
func (b *PulseBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = b.stream.Add(ctx, string(event.Type), payload)
	return err
}

// Register creates a dedicated consumer group for sub and starts a goroutine
// that decodes and delivers events until the returned Subscription is
// closed. Unlike the in-process Bus, a Subscriber error does not halt
// delivery to other subscribers — the error is discarded (not logged) and
// the event is acknowledged anyway, since subscribers run in independent
// goroutines reading independent consumer group cursors.
func (b *PulseBus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber is required")
	}
	b.mu.Lock()
	b.next++
	groupName := fmt.Sprintf("orchestrator:events:sub-%d", b.next)
	b.mu.Unlock()

	sink, err := b.stream.NewSink(context.Background(), groupName)
	if err != nil {
		return nil, fmt.Errorf("create pulse sink: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for evt := range sink.Subscribe() {
			var decoded Event
			if err := json.Unmarshal(evt.Payload, &decoded); err == nil {
				_ = sub.HandleEvent(ctx, decoded)
			}
			_ = sink.Ack(ctx, evt)
		}
	}()

	return &pulseSubscription{cancel: cancel, sink: sink}, nil
}

type pulseSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
	sink   pulseclient.Sink
}

// Close stops the subscriber's delivery goroutine and releases its consumer
// group. Idempotent.
func (s *pulseSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.sink.Close(context.Background())
	})
	return nil
}
