package core

import (
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Event names understood by the trigger evaluator.
const (
	EventSchedule    = "schedule"
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

// defaultPullRequestTypes are the activity types a bare pull_request trigger reacts to.
var defaultPullRequestTypes = []string{"opened", "synchronize", "reopened"}

// Event is an incoming occurrence that may start a workflow.
type Event struct {
	Name     string    `json:"event"`               // schedule, push, pull_request
	Action   string    `json:"action,omitempty"`    // pull request activity type
	Ref      string    `json:"ref,omitempty"`       // refs/heads/master
	HeadRef  string    `json:"head_ref,omitempty"`  // pull request source branch
	BaseRef  string    `json:"base_ref,omitempty"`  // pull request target branch
	SHA      string    `json:"sha,omitempty"`       // commit to check out
	CloneURL string    `json:"clone_url,omitempty"` // where to fetch the source from
	Schedule string    `json:"schedule,omitempty"`  // cron expression that fired
	Time     time.Time `json:"time,omitempty"`
}

// Matches reports whether any declared trigger accepts ev.
func (w *Workflow) Matches(ev Event) bool {
	t := &w.On
	switch ev.Name {
	case EventSchedule:
		if len(t.Schedule) == 0 {
			return false
		}
		if ev.Schedule == "" {
			return true
		}
		for _, s := range t.Schedule {
			if s.Cron == ev.Schedule {
				return true
			}
		}
		return false
	case EventPush:
		if t.Push == nil {
			return false
		}
		return branchAllowed(branchName(ev.Ref), t.Push.Branches, t.Push.BranchesIgnore)
	case EventPullRequest:
		if t.PullRequest == nil {
			return false
		}
		types := t.PullRequest.Types
		if len(types) == 0 {
			types = defaultPullRequestTypes
		}
		if ev.Action != "" && !contains(types, ev.Action) {
			return false
		}
		return branchAllowed(branchName(ev.BaseRef), t.PullRequest.Branches, t.PullRequest.BranchesIgnore)
	default:
		return contains(t.Other, ev.Name)
	}
}

// branchName strips the refs/heads/ prefix.
func branchName(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

func branchAllowed(branch string, include, exclude []string) bool {
	if len(include) > 0 && !matchAny(branch, include) {
		return false
	}
	return !matchAny(branch, exclude)
}

// matchAny matches branch against glob patterns: "*" stays within a path
// segment, a "**" segment spans any number of segments.
func matchAny(branch string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, branch); err == nil && ok {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
