package types

// TaskWorkerSimpleMap is the compact (id, className) view of a running task
// worker, published by a node as part of its task membership projection.
type TaskWorkerSimpleMap struct {
	ID        string `json:"id"`
	ClassName string `json:"className"`
}

// TaskWorkerSimpleMapList is the JSON document a node writes to the KV key
// node:{id}:all-task every sync period. Lists are always non-nil so the
// encoded form round-trips identically even when empty.
type TaskWorkerSimpleMapList struct {
	Tasks          []TaskWorkerSimpleMap `json:"tasks"`
	ExistedTaskIDs []string              `json:"existedTaskIds"`
	Timestamp      int64                 `json:"timestamp"`
}

// NewTaskWorkerSimpleMapList creates an empty list with a fresh timestamp
func NewTaskWorkerSimpleMapList() *TaskWorkerSimpleMapList {
	return &TaskWorkerSimpleMapList{
		Tasks:          []TaskWorkerSimpleMap{},
		ExistedTaskIDs: []string{},
		Timestamp:      NowMs(),
	}
}

// UpdateTimestamp refreshes the timestamp to the current time
func (l *TaskWorkerSimpleMapList) UpdateTimestamp() {
	l.Timestamp = NowMs()
}

// Push appends a task if its id is not already present
func (l *TaskWorkerSimpleMapList) Push(taskID, className string) {
	for _, t := range l.Tasks {
		if t.ID == taskID {
			return
		}
	}
	l.Tasks = append(l.Tasks, TaskWorkerSimpleMap{ID: taskID, ClassName: className})
	l.ExistedTaskIDs = append(l.ExistedTaskIDs, taskID)
}

// Pop removes the task with the given id, if present
func (l *TaskWorkerSimpleMapList) Pop(taskID string) {
	tasks := l.Tasks[:0]
	for _, t := range l.Tasks {
		if t.ID != taskID {
			tasks = append(tasks, t)
		}
	}
	l.Tasks = tasks

	ids := l.ExistedTaskIDs[:0]
	for _, id := range l.ExistedTaskIDs {
		if id != taskID {
			ids = append(ids, id)
		}
	}
	l.ExistedTaskIDs = ids
}

// Clear drops all entries and refreshes the timestamp
func (l *TaskWorkerSimpleMapList) Clear() {
	l.Tasks = []TaskWorkerSimpleMap{}
	l.ExistedTaskIDs = []string{}
	l.UpdateTimestamp()
}

// Keep prunes the list down to the given task ids and refreshes the timestamp
func (l *TaskWorkerSimpleMapList) Keep(taskIDs []string) {
	keep := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		keep[id] = true
	}

	tasks := make([]TaskWorkerSimpleMap, 0, len(l.Tasks))
	for _, t := range l.Tasks {
		if keep[t.ID] {
			tasks = append(tasks, t)
		}
	}
	l.Tasks = tasks

	ids := make([]string, 0, len(l.ExistedTaskIDs))
	for _, id := range l.ExistedTaskIDs {
		if keep[id] {
			ids = append(ids, id)
		}
	}
	l.ExistedTaskIDs = ids
	l.UpdateTimestamp()
}
