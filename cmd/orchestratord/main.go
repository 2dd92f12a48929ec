// Command orchestratord runs a single-binary orchestrator: it wires the
// reference in-process worker pool, ToolBackend, and trace store into a
// LeadAgent and answers one query end to end.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/fleetcode/orchestrator/analyzer"
	"github.com/fleetcode/orchestrator/channel"
	"github.com/fleetcode/orchestrator/config"
	"github.com/fleetcode/orchestrator/governor"
	"github.com/fleetcode/orchestrator/lead"
	"github.com/fleetcode/orchestrator/parallelexec"
	"github.com/fleetcode/orchestrator/query"
	"github.com/fleetcode/orchestrator/result"
	"github.com/fleetcode/orchestrator/strategy"
	"github.com/fleetcode/orchestrator/synth"
	"github.com/fleetcode/orchestrator/taskengine/inmem"
	"github.com/fleetcode/orchestrator/toolbackend"
	tracememstore "github.com/fleetcode/orchestrator/tracestore/inmem"
	"github.com/fleetcode/orchestrator/worker"
	"github.com/fleetcode/orchestrator/workerregistry"
)

const factListSchema = `{
  "type": "object",
  "required": ["findings"],
  "properties": {
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["subject_key", "type", "claim", "confidence"],
        "properties": {
          "subject_key": {"type": "string"},
          "type": {"type": "string"},
          "claim": {"type": "string"},
          "confidence": {"type": "number"}
        }
      }
    },
    "recommendations": {"type": "array"}
  }
}`

func main() {
	cfg := config.Default()
	ctx := context.Background()

	gov := governor.New(governor.Limits{
		MaxConcurrentWorkers:  cfg.MaxConcurrentWorkers,
		MaxInFlightTasks:      cfg.MaxInFlightTasks,
		MaxToolCallsPerPlan:   cfg.MaxFanoutPerPlan * cfg.DefaultMaxToolCallsPerTask,
		MaxWallTimePerPlan:    cfg.DefaultPlanTimeout,
		MaxToolCallsPerTask:   cfg.DefaultMaxToolCallsPerTask,
		MaxOutputBytesPerTask: cfg.DefaultMaxOutputBytes,
	})

	lib := strategy.New()
	an := analyzer.New(lib, gov,
		cfg.MaxFanoutPerPlan,
		cfg.ComplexityThresholds.SimpleMaxChars,
		cfg.ComplexityThresholds.ComplexMinChars,
		cfg.DefaultMaxToolCallsPerTask,
		cfg.DefaultTaskTimeout,
	)

	registry := workerregistry.New()
	backend := newDemoToolBackend()

	exec := parallelexec.New(registry, gov, backend, spawnDemoWorker(registry),
		parallelexec.WithGracePeriod(cfg.ShutdownGracePeriod),
		parallelexec.WithEngine(inmem.New()))

	parser, err := synth.NewOutputParser([]byte(factListSchema))
	if err != nil {
		log.Fatalf("orchestratord: compile output schema: %v", err)
	}

	store := tracememstore.New()
	agent := lead.New(an, gov, exec, synth.New(), store,
		lead.WithOutputParser("fact_list.v1", parser))

	text := "list public functions in this module"
	if len(os.Args) > 1 {
		text = os.Args[1]
	}

	sr, err := agent.Run(ctx, query.Query{Text: text}, analyzer.Hints{}, "")
	if err != nil {
		log.Fatalf("orchestratord: run query: %v", err)
	}

	printResult(sr)
}

func printResult(sr *result.SynthesizedResult) {
	out, _ := json.MarshalIndent(sr, "", "  ")
	fmt.Println(string(out))
}

// spawnDemoWorker returns a SpawnFunc that launches an in-process simulated
// worker: it answers every dispatched task with a single synthetic finding
// derived from the delegation's objective.
func spawnDemoWorker(registry *workerregistry.Registry) parallelexec.SpawnFunc {
	return func(ctx context.Context, caps []string) (string, *worker.Process, error) {
		execSide, workerSide := channel.NewInMemory(8)
		proc, err := worker.Spawn(ctx, worker.Config{
			DisplayName:  "demo-worker",
			Capabilities: caps,
			Launch: func(ctx context.Context) (channel.MessageChannel, error) {
				return execSide, nil
			},
		})
		if err != nil {
			return "", nil, err
		}
		workerID := registry.Register("demo-worker", caps, proc)
		go runDemoWorker(workerSide)
		return workerID, proc, nil
	}
}

func runDemoWorker(ws *channel.WorkerSide) {
	ctx := context.Background()
	_ = ws.Emit(ctx, channel.Event{Kind: channel.EventHeartbeat})
	for {
		env, err := ws.Recv(ctx)
		if err != nil {
			return
		}
		switch env.Kind {
		case channel.EnvelopeTask:
			out, _ := json.Marshal(map[string]any{
				"findings": []map[string]any{
					{
						"subject_key": "demo:" + env.TaskID,
						"type":        "fact",
						"claim":       "synthetic finding for a demo task",
						"confidence":  0.75,
					},
				},
				"recommendations": []map[string]any{},
			})
			_ = ws.Emit(ctx, channel.Event{
				Kind:    channel.EventResult,
				TaskID:  env.TaskID,
				Outcome: string(result.Success),
				Output:  out,
			})
		case channel.EnvelopeCancel:
			return
		}
	}
}

// newDemoToolBackend registers a handful of read-only operations a worker can
// call over its channel; the simulated demo worker itself issues no tool
// calls.
func newDemoToolBackend() *toolbackend.Registry {
	backend := toolbackend.New()
	backend.Register(toolbackend.ToolSchema{Name: "list_files"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.Marshal([]string{"main.go"})
	})
	backend.Register(toolbackend.ToolSchema{Name: "read_file"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(map[string]string{"content": ""})
	})
	return backend
}
