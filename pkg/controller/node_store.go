package controller

import (
	"sort"
	"sync"

	"github.com/JiHungLin/skalds/pkg/types"
)

// DefaultLivenessTimeoutMs is how long a node may go without refreshing the
// registry before it is considered offline
const DefaultLivenessTimeoutMs = 10000

// NodeData is the controller-side view of one skald node
type NodeData struct {
	ID           string
	Mode         types.NodeMode
	LastUpdateMs int64
	Heartbeat    int64
	Tasks        []types.TaskWorkerSimpleMap
}

// TaskCount returns the number of tasks the node last reported
func (n *NodeData) TaskCount() int {
	return len(n.Tasks)
}

// Online reports whether the node refreshed its registry entry recently
func (n *NodeData) Online(nowMs, timeoutMs int64) bool {
	return nowMs-n.LastUpdateMs <= timeoutMs
}

func (n *NodeData) clone() *NodeData {
	c := *n
	c.Tasks = append([]types.TaskWorkerSimpleMap(nil), n.Tasks...)
	return &c
}

// NodeStore is the controller's in-memory view of all nodes. It is owned by
// the controller and written only by the node monitor.
type NodeStore struct {
	mu    sync.RWMutex
	nodes map[string]*NodeData
}

// NewNodeStore creates an empty node store
func NewNodeStore() *NodeStore {
	return &NodeStore{nodes: make(map[string]*NodeData)}
}

// Upsert inserts a node if absent, otherwise refreshes its update time.
// New nodes default to node mode until the registry reports otherwise.
func (s *NodeStore) Upsert(id string, lastUpdateMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[id]; ok {
		n.LastUpdateMs = lastUpdateMs
		return
	}
	s.nodes[id] = &NodeData{
		ID:           id,
		Mode:         types.NodeModeNode,
		LastUpdateMs: lastUpdateMs,
	}
}

// SetMode records the node's mode
func (s *NodeStore) SetMode(id string, mode types.NodeMode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[id]; ok {
		n.Mode = mode
	}
}

// SetHeartbeat records the node's latest heartbeat sample
func (s *NodeStore) SetHeartbeat(id string, heartbeat int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[id]; ok {
		n.Heartbeat = heartbeat
	}
}

// SetTasks records the task list the node last reported
func (s *NodeStore) SetTasks(id string, tasks []types.TaskWorkerSimpleMap) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.nodes[id]; ok {
		n.Tasks = append([]types.TaskWorkerSimpleMap(nil), tasks...)
	}
}

// Get returns a copy of the node's data
func (s *NodeStore) Get(id string) (*NodeData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return n.clone(), true
}

// IDs returns all known node ids
func (s *NodeStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	return ids
}

// All returns a copy of every node entry
func (s *NodeStore) All() []*NodeData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*NodeData, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.clone())
	}
	return out
}

// AssignmentTargets returns online node-mode entries sorted by id. Edge
// nodes never receive controller-dispatched tasks.
func (s *NodeStore) AssignmentTargets(nowMs, timeoutMs int64) []*NodeData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*NodeData
	for _, n := range s.nodes {
		if n.Mode == types.NodeModeNode && n.Online(nowMs, timeoutMs) {
			out = append(out, n.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a node from the store
func (s *NodeStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
}

// Len returns the number of known nodes
func (s *NodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
