package core

import (
	"context"
	"io"
)

// ActionContext is what a reusable action sees when its step runs.
type ActionContext struct {
	Step      *Step
	With      map[string]string // inputs after ${{ }} expansion
	Event     Event
	Workspace string
	Env       []string
	Output    io.Writer
	Exec      CommandRunner

	addPost func(name string, hook PostHook)
}

// NewActionContext returns a context whose AddPost forwards to addPost.
func NewActionContext(addPost func(name string, hook PostHook)) *ActionContext {
	return &ActionContext{With: map[string]string{}, addPost: addPost}
}

// AddPost registers a hook that runs after the job's main steps succeed.
// Hooks run in reverse registration order.
func (ac *ActionContext) AddPost(name string, hook PostHook) {
	if ac.addPost != nil {
		ac.addPost(name, hook)
	}
}

// Input returns a trimmed input value or def when unset.
func (ac *ActionContext) Input(key, def string) string {
	if v, ok := ac.With[key]; ok && v != "" {
		return v
	}
	return def
}

// PostHook is deferred work registered by an action.
type PostHook func(ctx context.Context, out io.Writer) error

// Action is a reusable step implementation referenced by "uses".
type Action interface {
	Run(ctx context.Context, ac *ActionContext) error
}

// ActionResolver maps a "uses" reference to an Action.
type ActionResolver interface {
	Resolve(uses string) (Action, error)
}
