package core

import "fmt"

// StepState is the runtime state of one step.
type StepState string

const (
	StepPending  StepState = "PENDING"
	StepRunning  StepState = "RUNNING"
	StepSuccess  StepState = "SUCCESS"
	StepFailed   StepState = "FAILED"
	StepTimedOut StepState = "TIMED_OUT"
	StepSkipped  StepState = "SKIPPED"
)

// JobStatus is the runtime status of one job instance.
type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobRunning JobStatus = "RUNNING"
	JobSuccess JobStatus = "SUCCESS"
	JobFailed  JobStatus = "FAILED"
	JobSkipped JobStatus = "SKIPPED"
)

// IsTerminal reports whether the step has finished.
func (s StepState) IsTerminal() bool {
	switch s {
	case StepSuccess, StepFailed, StepTimedOut, StepSkipped:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the step should fail its job.
func (s StepState) IsFailure() bool {
	return s == StepFailed || s == StepTimedOut
}

// IsTerminal reports whether the job has finished.
func (s JobStatus) IsTerminal() bool {
	return s == JobSuccess || s == JobFailed || s == JobSkipped
}

func allowedStepTransition(from, to StepState) bool {
	switch from {
	case StepPending:
		return to == StepRunning || to == StepSkipped
	case StepRunning:
		return to == StepSuccess || to == StepFailed || to == StepTimedOut
	default:
		return false
	}
}

func allowedJobTransition(from, to JobStatus) bool {
	switch from {
	case JobPending:
		return to == JobRunning || to == JobSkipped || to == JobFailed
	case JobRunning:
		return to == JobSuccess || to == JobFailed
	default:
		return false
	}
}

// transition moves a step to a new state, refusing anything the state
// machine does not allow.
func (r *StepResult) transition(to StepState) error {
	if !allowedStepTransition(r.State, to) {
		return fmt.Errorf("step %q: disallowed transition %s -> %s", r.Name, r.State, to)
	}
	r.State = to
	return nil
}

func (r *RunResult) transition(to JobStatus) error {
	if !allowedJobTransition(r.Status, to) {
		return fmt.Errorf("job %q: disallowed transition %s -> %s", r.JobID, r.Status, to)
	}
	r.Status = to
	return nil
}
