/*
Package worker implements the task worker runtime that runs inside each task
subprocess.

A worker implements Init and RunMain and may add the optional hooks
(BeforeHook, AfterHook, ReleaseHook, UpdateHook). The Runtime wraps it in the
deterministic lifecycle:

	runBefore  open KV, subscribe taskworker.update, start heartbeat,
	           clear the exception key
	RunMain    the worker's business logic
	runAfter   stop heartbeat, push the SUCCESS sentinel

Errors anywhere in the chain route through the error handler, which records
the exception in KV and pushes FAILED before the process exits. SIGINT and
SIGTERM route to a single release path that pushes CANCELLED. Release runs
exactly once no matter how the process leaves.

Worker classes are registered by className in a Registry; registering the
same class twice is an error surfaced at startup.
*/
package worker
