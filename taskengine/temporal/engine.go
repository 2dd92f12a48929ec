package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/fleetcode/orchestrator/taskengine"
)

// runActivityWorkflow is the single workflow type this engine registers; it
// runs one named activity and returns its result.
const runActivityWorkflow = "taskengine.RunActivity"

// Options configures the Temporal engine adapter. Either Client or
// ClientOptions must be set; TaskQueue is always required.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, New constructs a
	// lazy client from ClientOptions.
	Client client.Client

	// ClientOptions configures a new client when Client is nil.
	ClientOptions *client.Options

	// TaskQueue is the queue this engine's worker polls and the queue every
	// activity is dispatched to.
	TaskQueue string
}

// Engine is a taskengine.Engine backed by a Temporal worker and client. The
// worker starts lazily on the first ExecuteActivity call.
type Engine struct {
	client      client.Client
	closeClient bool
	taskQueue   string
	worker      worker.Worker

	startOnce sync.Once

	mu         sync.RWMutex
	activities map[string]taskengine.ActivityFunc
}

// New constructs a Temporal-backed Engine.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("taskengine/temporal: task queue is required")
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("taskengine/temporal: client options are required when Client is nil")
		}
		var err error
		cli, err = client.NewLazyClient(*opts.ClientOptions)
		if err != nil {
			return nil, fmt.Errorf("taskengine/temporal: create client: %w", err)
		}
		closeClient = true
	}

	e := &Engine{
		client:      cli,
		closeClient: closeClient,
		taskQueue:   opts.TaskQueue,
		activities:  make(map[string]taskengine.ActivityFunc),
	}
	e.worker = worker.New(cli, opts.TaskQueue, worker.Options{})
	e.worker.RegisterWorkflowWithOptions(e.runActivity, workflow.RegisterOptions{Name: runActivityWorkflow})
	return e, nil
}

// RegisterActivity implements taskengine.Engine.
func (e *Engine) RegisterActivity(_ context.Context, def taskengine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("taskengine/temporal: invalid activity definition")
	}
	e.mu.Lock()
	e.activities[def.Name] = def.Handler
	e.mu.Unlock()

	e.worker.RegisterActivityWithOptions(e.activityShim(def.Name), activity.RegisterOptions{Name: def.Name, DisableAlreadyRegisteredCheck: true})
	return nil
}

// activityShim looks the handler up by name at invocation time so an
// activity registered after the worker started (but before it is actually
// invoked) is still found.
func (e *Engine) activityShim(name string) func(ctx context.Context, input any) (any, error) {
	return func(ctx context.Context, input any) (any, error) {
		e.mu.RLock()
		fn, ok := e.activities[name]
		e.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("taskengine/temporal: activity %q not registered", name)
		}
		return fn(ctx, input)
	}
}

type runActivityInput struct {
	Name    string
	Input   any
	Timeout time.Duration
}

func (e *Engine) runActivity(ctx workflow.Context, in runActivityInput) (any, error) {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporalsdk.RetryPolicy{MaximumAttempts: 1},
	})
	var out any
	err := workflow.ExecuteActivity(actx, in.Name, in.Input).Get(actx, &out)
	return out, err
}

// ExecuteActivity implements taskengine.Engine by starting the worker (once)
// and running the named activity inside one workflow execution, blocking
// until it completes, fails, or ctx is done.
func (e *Engine) ExecuteActivity(ctx context.Context, req taskengine.ActivityRequest) (any, error) {
	e.ensureWorkerStarted()

	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("taskengine-%s-%s", req.Name, uuid.NewString()),
		TaskQueue: e.taskQueue,
	}, runActivityWorkflow, runActivityInput{Name: req.Name, Input: req.Input, Timeout: req.Timeout})
	if err != nil {
		return nil, fmt.Errorf("taskengine/temporal: start workflow: %w", err)
	}

	var out any
	if err := run.Get(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) ensureWorkerStarted() {
	e.startOnce.Do(func() {
		go e.worker.Run(worker.InterruptCh())
	})
}

// Close shuts down the Temporal client if this engine created it.
//
//nolint:unparam // error return kept for interface symmetry with io.Closer-style callers.
func (e *Engine) Close() error {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
	return nil
}
