// Package worker implements WorkerProcess, the supervised handle to a
// worker agent process and its MessageChannel (spec §4.1 "WorkerProcess").
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetcode/orchestrator/channel"
	"github.com/fleetcode/orchestrator/delegation"
)

type (
	// Config describes how to spawn a worker process.
	Config struct {
		// DisplayName is a human-readable label recorded on the resulting
		// WorkerInfo.
		DisplayName string
		// Capabilities is the set of capability tags this worker advertises.
		Capabilities []string
		// Launch starts the underlying process and returns the channel
		// endpoint the executor will drive. Launch is the seam the
		// reference in-process demo and a real OS-process launcher both
		// implement.
		Launch func(ctx context.Context) (channel.MessageChannel, error)
	}

	// Process is a handle to one spawned worker. It owns the worker's
	// MessageChannel exclusively (spec §5: "not shared").
	Process struct {
		config Config
		ch     channel.MessageChannel

		mu     sync.Mutex
		status status
	}

	status string
)

const (
	statusStarting status = "Starting"
	statusIdle     status = "Idle"
	statusBusy     status = "Busy"
	statusStopped  status = "Stopped"
)

// Spawn launches cfg.Launch and returns a new Process in Starting state with
// its MessageChannel endpoint (spec §4.1 "spawn(config)").
func Spawn(ctx context.Context, cfg Config) (*Process, error) {
	if cfg.Launch == nil {
		return nil, fmt.Errorf("worker: config.Launch is required")
	}
	ch, err := cfg.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker: launch failed: %w", err)
	}
	return &Process{config: cfg, ch: ch, status: statusStarting}, nil
}

// Send enqueues env for delivery to the worker. Fails if the worker is not
// Idle/Busy (spec §4.1 "send(envelope)").
func (p *Process) Send(ctx context.Context, env channel.Envelope) error {
	p.mu.Lock()
	s := p.status
	p.mu.Unlock()
	if s != statusIdle && s != statusBusy {
		return fmt.Errorf("worker: cannot send while status is %s", s)
	}
	return p.ch.Send(ctx, env)
}

// Dispatch sends d's canonical bytes as a single logical task envelope and
// marks the worker Busy (spec §4.5 step 3).
func (p *Process) Dispatch(ctx context.Context, taskID string, d *delegation.TaskDelegation) error {
	if err := p.ch.Send(ctx, channel.Envelope{
		Kind:                EnvelopeTask(),
		TaskID:              taskID,
		CanonicalDelegation: d.Canonical(),
	}); err != nil {
		return err
	}
	p.mu.Lock()
	p.status = statusBusy
	p.mu.Unlock()
	return nil
}

// EnvelopeTask returns the envelope kind Dispatch uses to send a task,
// exposed so callers outside this package can build Envelope values
// consistently.
func EnvelopeTask() channel.EnvelopeKind { return channel.EnvelopeTask }

// NextEvent blocks for the next event from the worker, or until deadline
// elapses (spec §4.1 "next_event(deadline)"). It also applies status
// transitions driven by the observed event: first Heartbeat after Starting
// ⇒ Idle; Result ⇒ Idle; Terminated ⇒ Stopped (callers record Failed or
// Terminated in workerregistry).
func (p *Process) NextEvent(ctx context.Context, deadline time.Time) (channel.Event, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	evt, err := p.ch.Next(callCtx)
	if err != nil {
		return evt, err
	}
	p.applyTransition(evt)
	return evt, nil
}

func (p *Process) applyTransition(evt channel.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch evt.Kind {
	case channel.EventHeartbeat:
		if p.status == statusStarting {
			p.status = statusIdle
		}
	case channel.EventResult:
		p.status = statusIdle
	case channel.EventTerminated:
		// Whether this counts as Failed or Terminated (spec §4.1) depends
		// on the task's expected output, which this package does not
		// track; callers (parallelexec) make that distinction against
		// workerregistry using the task's terminal result.
		p.status = statusStopped
	}
}

// Shutdown requests cooperative termination via a cancel envelope, waiting
// up to grace before the caller should escalate to a forced kill (spec §4.1
// "shutdown(grace)"). This package does not own OS process management
// directly — Config.Launch's returned channel is responsible for actually
// terminating the underlying process once it observes the cancel envelope
// or this channel is closed.
func (p *Process) Shutdown(ctx context.Context, grace time.Duration) error {
	sendCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	_ = p.ch.Send(sendCtx, channel.Envelope{Kind: channel.EnvelopeCancel})

	p.mu.Lock()
	p.status = statusStopped
	p.mu.Unlock()
	return p.ch.Close()
}

// Status reports the worker's current status: "Starting", "Idle", "Busy" or
// "Stopped".
func (p *Process) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.status)
}
