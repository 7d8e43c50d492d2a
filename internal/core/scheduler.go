package core

// Scheduler decides which jobs an event starts and in what order.
type Scheduler struct{}

// NewScheduler creates a new scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// JobsFor returns the ids of the jobs ev starts, in execution order. It is
// empty when no trigger matches.
func (s *Scheduler) JobsFor(w *Workflow, ev Event) []string {
	if w == nil || !w.Matches(ev) {
		return nil
	}
	return w.JobIDs()
}
