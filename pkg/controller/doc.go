/*
Package controller implements the Skalds control plane.

The controller never talks to nodes directly. It polls the KV store for node
liveness and task heartbeats, persists lifecycle transitions in the DB, and
publishes assignments and cancellations on the message bus:

	┌────────────── CONTROLLER ───────────────┐
	│                                          │
	│  NodeMonitor ──▶ NodeStore               │
	│      │               ▲                   │
	│      ▼               │ observes          │
	│     KV           Dispatcher ──▶ DB + BUS │
	│      ▲                                   │
	│      │                                   │
	│  TaskMonitor ──▶ TaskStore               │
	│      │                                   │
	│      ▼                                   │
	│   DB + BUS                               │
	└──────────────────────────────────────────┘

NodeMonitor reconciles the nodes:hash registry into the NodeStore and purges
the KV keyspace of departed or timed-out nodes. TaskMonitor samples task
heartbeats into bounded sliding windows and classifies each task: sentinel
values finalize it, a full window without change fails it, absence from the
DB orphans it. Dispatcher assigns Created Passive tasks to the least-loaded
online node and records the assignment through DB and BUS only.

All three loops are singletons owned by Controller; a second Start is a
programming error, and a tick failure is logged and retried next interval.
*/
package controller
