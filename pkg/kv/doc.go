/*
Package kv adapts the Redis key-value store for Skalds.

The KV store carries only ephemeral state: node liveness timestamps, task
heartbeats, and the per-node task membership projection. Every key the
control plane touches is produced by the helpers in keys.go so the keyspace
stays in one place.

Heartbeat keys hold millisecond timestamps while a worker is alive and one of
the reserved negative sentinels (see types.HeartbeatSuccess and friends) once
it reaches a terminal state.
*/
package kv
