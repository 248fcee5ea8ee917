package node

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/JiHungLin/skalds/pkg/metrics"
	"github.com/JiHungLin/skalds/pkg/types"
	"github.com/JiHungLin/skalds/pkg/worker"
)

// spawn re-invokes the current binary in worker-exec mode with the task
// handed over through the environment. Task workers are OS subprocesses so a
// hanging or crashing worker cannot take the node down.
func spawn(task *types.Task, resourceKey string) (*ProcessHandle, error) {
	timer := metrics.NewTimer()

	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task %s: %w", task.ID, err)
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}

	cmd := exec.Command(exe, worker.ExecArg)
	cmd.Env = append(os.Environ(), worker.EnvTask+"="+string(payload))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker for task %s: %w", task.ID, err)
	}

	h := &ProcessHandle{
		TaskID:     task.ID,
		ClassName:  task.ClassName,
		ResourceID: resourceID(task, resourceKey),
		PID:        cmd.Process.Pid,
		LaunchedAt: time.Now(),
		cmd:        cmd,
		waitCh:     make(chan struct{}),
	}

	go func() {
		// Reap the subprocess; its exit is reported to the controller
		// through the heartbeat sentinels, not the exit status.
		_ = cmd.Wait()
		close(h.waitCh)
	}()

	timer.ObserveDuration(metrics.SpawnDuration)
	metrics.WorkersSpawned.Inc()
	return h, nil
}

// resourceID extracts the configured secondary discriminator from the task's
// attachments, if present
func resourceID(task *types.Task, resourceKey string) string {
	if resourceKey == "" || task.Attachments == nil {
		return ""
	}
	if v, ok := task.Attachments[resourceKey]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
