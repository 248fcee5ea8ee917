package worker

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/JiHungLin/skalds/pkg/config"
	"github.com/JiHungLin/skalds/pkg/types"
)

// EnvTask is the environment variable carrying the task document into a
// worker subprocess
const EnvTask = "SKALDS_TASK"

// ExecArg is the argument the binary is re-invoked with to run as a task
// worker subprocess
const ExecArg = "worker-exec"

// RunFromEnv runs a task worker subprocess: it decodes the task from the
// environment, constructs the registered worker class and drives it through
// the lifecycle. This is the entry point behind the worker-exec invocation.
func RunFromEnv(cfg *config.Config, registry *Registry) error {
	payload := os.Getenv(EnvTask)
	if payload == "" {
		return fmt.Errorf("%s is not set; worker-exec must be spawned by a skald node", EnvTask)
	}

	var task types.Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return fmt.Errorf("failed to decode task from environment: %w", err)
	}

	w, err := registry.New(task.ClassName)
	if err != nil {
		return err
	}
	if err := w.Init(&task); err != nil {
		return fmt.Errorf("failed to initialize worker for task %s: %w", task.ID, err)
	}

	return NewRuntime(cfg, &task, w).Run()
}

func decodeUpdate(value []byte) (types.UpdateTaskWorkerEvent, error) {
	var event types.UpdateTaskWorkerEvent
	err := json.Unmarshal(value, &event)
	return event, err
}
