// Package temporal provides a durable taskengine.Engine backed by Temporal
// (https://temporal.io). Each ExecuteActivity call runs its named activity
// inside a single generic workflow execution. The activity is attempted
// once (its retry policy allows a single attempt): a failure or a
// start-to-close timeout is returned to the caller as an error, and any
// retry is left to the caller.
//
// # Constructing an Engine
//
//	eng, err := temporal.New(temporal.Options{
//	    ClientOptions: &client.Options{HostPort: "temporal:7233", Namespace: "default"},
//	    TaskQueue:     "orchestrator.tasks",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
// # Scope
//
// This engine does not expose Temporal's workflow, signal, or child-workflow
// primitives: ParallelExecutor's task drivers already own every suspension
// point (governor slot, worker selection, next_event), so the engine only
// needs to run one named activity per call and return its result.
package temporal
