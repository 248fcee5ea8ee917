package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TaskWorkerDecl is one locally-declared Active task
type TaskWorkerDecl struct {
	ClassName   string         `yaml:"className"`
	Attachments map[string]any `yaml:"attachments"`
}

// TaskWorkersFile is the YAML document declaring a node's Active tasks,
// keyed by task id
type TaskWorkersFile struct {
	TaskWorkers map[string]TaskWorkerDecl `yaml:"TaskWorkers"`
}

// LoadTaskWorkers reads the local task declaration file. An empty path
// yields an empty declaration set; a path that cannot be read is an error.
func LoadTaskWorkers(path string) (*TaskWorkersFile, error) {
	if path == "" {
		return &TaskWorkersFile{TaskWorkers: map[string]TaskWorkerDecl{}}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task worker file %s: %w", path, err)
	}

	var file TaskWorkersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse task worker file %s: %w", path, err)
	}
	if file.TaskWorkers == nil {
		file.TaskWorkers = map[string]TaskWorkerDecl{}
	}

	for id, decl := range file.TaskWorkers {
		if decl.ClassName == "" {
			return nil, fmt.Errorf("task worker %s: className must not be empty", id)
		}
	}
	return &file, nil
}
