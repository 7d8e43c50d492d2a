package core

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Workflow is a trigger-and-job descriptor: the events that start it and the
// jobs it runs.
type Workflow struct {
	Name string            `yaml:"name"`
	On   Triggers          `yaml:"on"`
	Env  map[string]string `yaml:"env"`
	Jobs map[string]*Job   `yaml:"jobs"`

	// Path is where the descriptor was loaded from, empty for the built-in one.
	Path string `yaml:"-"`
}

// JobIDs returns job ids in a stable order.
func (w *Workflow) JobIDs() []string {
	ids := make([]string, 0, len(w.Jobs))
	for id := range w.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Schedule is one cron entry, evaluated in UTC.
type Schedule struct {
	Cron string `yaml:"cron"`
}

// PushTrigger filters push events by branch.
type PushTrigger struct {
	Branches       []string `yaml:"branches"`
	BranchesIgnore []string `yaml:"branches-ignore"`
}

// PullRequestTrigger filters pull request events by activity type and base branch.
type PullRequestTrigger struct {
	Types          []string `yaml:"types"`
	Branches       []string `yaml:"branches"`
	BranchesIgnore []string `yaml:"branches-ignore"`
}

// Triggers holds the declared events. A nil Push or PullRequest means the event
// is not declared; an empty struct means declared without filters.
type Triggers struct {
	Schedule    []Schedule
	Push        *PushTrigger
	PullRequest *PullRequestTrigger
	// Other lists events without filters this runner understands only by name,
	// such as workflow_dispatch.
	Other []string
}

// Empty reports whether no trigger type is declared.
func (t *Triggers) Empty() bool {
	return len(t.Schedule) == 0 && t.Push == nil && t.PullRequest == nil && len(t.Other) == 0
}

// UnmarshalYAML accepts the three shapes of "on": a single event name, a list
// of names, or a mapping of event name to filter.
func (t *Triggers) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return t.declare(value.Value, nil)
	case yaml.SequenceNode:
		for _, n := range value.Content {
			if n.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: event name expected", n.Line)
			}
			if err := t.declare(n.Value, nil); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			if err := t.declare(value.Content[i].Value, value.Content[i+1]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("line %d: unsupported trigger declaration", value.Line)
	}
}

func (t *Triggers) declare(event string, filter *yaml.Node) error {
	if filter != nil && filter.Tag == "!!null" {
		filter = nil
	}
	switch event {
	case EventSchedule:
		if filter == nil {
			return fmt.Errorf("schedule trigger requires at least one cron entry")
		}
		var entries []Schedule
		if err := filter.Decode(&entries); err != nil {
			return fmt.Errorf("line %d: schedule: %w", filter.Line, err)
		}
		t.Schedule = append(t.Schedule, entries...)
	case EventPush:
		t.Push = &PushTrigger{}
		if filter != nil {
			if err := filter.Decode(t.Push); err != nil {
				return fmt.Errorf("line %d: push: %w", filter.Line, err)
			}
		}
	case EventPullRequest:
		t.PullRequest = &PullRequestTrigger{}
		if filter != nil {
			if err := filter.Decode(t.PullRequest); err != nil {
				return fmt.Errorf("line %d: pull_request: %w", filter.Line, err)
			}
		}
	default:
		t.Other = append(t.Other, event)
	}
	return nil
}
