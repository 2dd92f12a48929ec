// Package channel defines MessageChannel, the bidirectional framed message
// transport to a worker (spec §6 "MessageChannel"), plus an in-memory
// implementation for tests and the single-process demo.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type (
	// EventKind discriminates the events a worker can emit (spec §6
	// "Received events").
	EventKind string

	// Event is one message received from a worker.
	Event struct {
		Kind EventKind

		// ToolCall fields, set when Kind == EventToolCall.
		CallID string
		Name   string
		Args   json.RawMessage

		// Progress fields, set when Kind == EventProgress.
		Text string

		// Result fields, set when Kind == EventResult.
		TaskID   string
		Outcome  string
		Output   json.RawMessage
		Counters Counters

		// Terminated fields, set when Kind == EventTerminated.
		Reason string
	}

	// Counters accompanies a Result event with per-task usage.
	Counters struct {
		ToolCallsUsed int
		TokensUsed    int
		CostUnits     float64
	}

	// Envelope is a dispatch message sent to a worker (spec §6 "Dispatch
	// envelope").
	Envelope struct {
		Kind EnvelopeKind

		// TaskID/CanonicalDelegation are set when Kind == EnvelopeTask.
		TaskID                 string
		CanonicalDelegation    []byte

		// CallID/Payload are set when Kind == EnvelopeToolResult.
		CallID  string
		Payload json.RawMessage
	}

	// EnvelopeKind discriminates dispatch envelope kinds.
	EnvelopeKind string

	// MessageChannel is the bidirectional transport between the executor
	// and one worker. Framing is channel-specific but must be lossless
	// round-trip for the canonical delegation bytes (spec §6). Exclusively
	// owned by a single worker's driver; never shared (spec §5).
	MessageChannel interface {
		// Send enqueues env for delivery to the worker.
		Send(ctx context.Context, env Envelope) error
		// Next blocks until the next Event arrives, or ctx is done.
		Next(ctx context.Context) (Event, error)
		// Close releases the channel's resources.
		Close() error
	}
)

const (
	EventHeartbeat  EventKind = "Heartbeat"
	EventToolCall   EventKind = "ToolCall"
	EventProgress   EventKind = "Progress"
	EventResult     EventKind = "Result"
	EventTerminated EventKind = "Terminated"
)

const (
	EnvelopeTask       EnvelopeKind = "task"
	EnvelopeToolResult EnvelopeKind = "tool_result"
	EnvelopeCancel     EnvelopeKind = "cancel"
)

// ErrClosed is returned by Next/Send once the channel has been closed.
var ErrClosed = errors.New("channel: closed")

// InMemory is a MessageChannel implementation backed by Go channels, for
// tests and the in-process demo (spec.md's non-goal on distributed
// orchestration permits a same-process transport as one valid MessageChannel
// implementation).
type InMemory struct {
	toWorker   chan Envelope
	fromWorker chan Event
	closed     chan struct{}
}

// NewInMemory constructs a connected pair of channel endpoints: the
// executor-facing side (returned) and the worker-facing side (the second
// return value), which a worker-side driver reads Envelopes from and writes
// Events to.
func NewInMemory(bufSize int) (*InMemory, *WorkerSide) {
	toWorker := make(chan Envelope, bufSize)
	fromWorker := make(chan Event, bufSize)
	closed := make(chan struct{})
	executorSide := &InMemory{toWorker: toWorker, fromWorker: fromWorker, closed: closed}
	workerSide := &WorkerSide{toWorker: toWorker, fromWorker: fromWorker, closed: closed}
	return executorSide, workerSide
}

// Send implements MessageChannel.
func (c *InMemory) Send(ctx context.Context, env Envelope) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.toWorker <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}
}

// Next implements MessageChannel.
func (c *InMemory) Next(ctx context.Context) (Event, error) {
	select {
	case evt, ok := <-c.fromWorker:
		if !ok {
			return Event{}, ErrClosed
		}
		return evt, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-c.closed:
		return Event{}, ErrClosed
	}
}

// Close implements MessageChannel.
func (c *InMemory) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// WorkerSide is the worker-facing half of an InMemory channel pair.
type WorkerSide struct {
	toWorker   chan Envelope
	fromWorker chan Event
	closed     chan struct{}
}

// Recv blocks until the next Envelope dispatched by the executor, or ctx is
// done.
func (w *WorkerSide) Recv(ctx context.Context) (Envelope, error) {
	select {
	case env, ok := <-w.toWorker:
		if !ok {
			return Envelope{}, ErrClosed
		}
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-w.closed:
		return Envelope{}, ErrClosed
	}
}

// Emit sends evt to the executor side.
func (w *WorkerSide) Emit(ctx context.Context, evt Event) error {
	select {
	case w.fromWorker <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.closed:
		return ErrClosed
	}
}

// String renders an Envelope for diagnostic logging.
func (e Envelope) String() string {
	return fmt.Sprintf("Envelope{kind=%s task_id=%s call_id=%s}", e.Kind, e.TaskID, e.CallID)
}
