package core

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Job is a named unit of work: a guard, a runner label and ordered steps.
type Job struct {
	ID             string            `yaml:"-"`
	Name           string            `yaml:"name"`
	If             string            `yaml:"if"`       // guard expression
	RunsOn         Labels            `yaml:"runs-on"`  // e.g. "macos-latest"
	Env            map[string]string `yaml:"env"`      // job level env
	TimeoutMinutes float64           `yaml:"timeout-minutes"`
	Steps          []Step            `yaml:"steps"`
}

// DisplayName returns the job name, falling back to its id.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// Timeout is the job wall-clock budget, zero when unbounded.
func (j *Job) Timeout() time.Duration {
	return minutes(j.TimeoutMinutes)
}

// Step is either a reusable action reference (uses) or inline shell text (run).
type Step struct {
	ID               string            `yaml:"id"`
	Name             string            `yaml:"name"`
	If               string            `yaml:"if"`
	Uses             string            `yaml:"uses"` // owner/repo@ref
	With             map[string]string `yaml:"with"`
	Run              string            `yaml:"run"`
	Shell            string            `yaml:"shell"`
	Env              map[string]string `yaml:"env"`
	WorkingDirectory string            `yaml:"working-directory"`
	TimeoutMinutes   float64           `yaml:"timeout-minutes"`
	ContinueOnError  bool              `yaml:"continue-on-error"`
}

// DisplayName mirrors how the hosted platform titles unnamed steps.
func (s *Step) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses != "":
		return "Run " + s.Uses
	default:
		line := strings.TrimSpace(s.Run)
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		return "Run " + line
	}
}

// Timeout is the step wall-clock budget, zero when unbounded.
func (s *Step) Timeout() time.Duration {
	return minutes(s.TimeoutMinutes)
}

func minutes(m float64) time.Duration {
	if m <= 0 {
		return 0
	}
	return time.Duration(m * float64(time.Minute))
}

// Labels is a runs-on value; it accepts a single label or a list.
type Labels []string

func (l *Labels) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = Labels{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	default:
		return fmt.Errorf("line %d: runs-on must be a label or a list of labels", value.Line)
	}
}

func (l Labels) String() string {
	return strings.Join(l, ",")
}
