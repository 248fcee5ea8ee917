package kv

import "fmt"

// Key names for the liveness and task-membership projection. The KV store is
// a fast, lossy view; the DB remains the durable source of truth.
const (
	// NodesHash maps nodeId -> lastUpdateMs
	NodesHash = "nodes:hash"

	// NodesModeHash maps nodeId -> "node"|"edge"
	NodesModeHash = "nodes:mode:hash"
)

// NodeHeartbeatKey is the heartbeat key for a node
func NodeHeartbeatKey(nodeID string) string {
	return fmt.Sprintf("node:%s:heartbeat", nodeID)
}

// NodeAllTaskKey holds the node's task membership projection JSON
func NodeAllTaskKey(nodeID string) string {
	return fmt.Sprintf("node:%s:all-task", nodeID)
}

// NodePrefix matches every key owned by a node, for prefix purges
func NodePrefix(nodeID string) string {
	return fmt.Sprintf("node:%s:", nodeID)
}

// TaskHeartbeatKey is the heartbeat key for a task worker
func TaskHeartbeatKey(taskID string) string {
	return fmt.Sprintf("task:%s:heartbeat", taskID)
}

// TaskHasErrorKey holds a human-readable error string for a task
func TaskHasErrorKey(taskID string) string {
	return fmt.Sprintf("task:%s:has-error", taskID)
}

// TaskExceptionKey holds the last exception message for a task (empty = none)
func TaskExceptionKey(taskID string) string {
	return fmt.Sprintf("task:%s:exception", taskID)
}
