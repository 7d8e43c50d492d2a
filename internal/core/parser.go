package core

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed workflows/macos.yml
var defaultWorkflow []byte

// ParseWorkflow parses YAML content into a Workflow object
func ParseWorkflow(data []byte) (*Workflow, error) {
	var workflow Workflow
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&workflow); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkflow, err)
	}
	for id, job := range workflow.Jobs {
		if job == nil {
			return nil, fmt.Errorf("%w: job %q is empty", ErrInvalidWorkflow, id)
		}
		job.ID = id
	}
	return &workflow, nil
}

// LoadWorkflow reads a workflow file and returns a Workflow object
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	workflow, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	workflow.Path = path
	return workflow, nil
}

// DefaultWorkflow returns the built-in macOS test workflow.
func DefaultWorkflow() *Workflow {
	workflow, err := ParseWorkflow(defaultWorkflow)
	if err != nil {
		panic(fmt.Sprintf("built-in workflow is invalid: %v", err))
	}
	return workflow
}

// DefaultWorkflowYAML returns the raw built-in descriptor.
func DefaultWorkflowYAML() []byte {
	return bytes.Clone(defaultWorkflow)
}
