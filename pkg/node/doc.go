/*
Package node implements the skald worker host.

A Skald registers itself in the KV node registry, heartbeats its liveness and
runs the TaskWorkerManager, which consumes the control topics:

	task.assign            spawn a worker subprocess for this node
	task.cancel            SIGTERM the matching subprocess, SIGKILL on timeout
	task.update.attachment republish to the worker on taskworker.update

Task workers run as OS subprocesses — the current binary re-invoked in
worker-exec mode — so worker crashes and hangs are contained at the process
boundary. WorkerStore is the single authority over local subprocess
lifetimes; the manager's sync loop projects its contents into the KV key
node:{id}:all-task every sync period.

Edge-mode skalds only run locally-declared Active tasks and never appear as
assignment targets.
*/
package node
