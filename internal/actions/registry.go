package actions

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"workflowci/internal/cache"
	"workflowci/internal/core"
)

// Names of the reusable actions this runner implements natively.
const (
	CheckoutName  = "actions/checkout"
	ToolchainName = core.ToolchainAction
	RustCacheName = "Swatinem/rust-cache"
)

// Registry maps "owner/repo" to an Action. Lookups ignore case and the @ref.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]core.Action
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]core.Action)}
}

// Default returns a registry holding checkout, toolchain and rust-cache.
func Default(store *cache.Store) *Registry {
	r := NewRegistry()
	r.Register(CheckoutName, &Checkout{})
	r.Register(ToolchainName, &Toolchain{})
	r.Register(RustCacheName, NewRustCache(store))
	return r
}

func (r *Registry) Register(name string, a core.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[strings.ToLower(name)] = a
}

// Resolve implements core.ActionResolver.
func (r *Registry) Resolve(uses string) (core.Action, error) {
	name, _ := core.SplitUses(uses)
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownAction, uses)
	}
	return a, nil
}

// Names lists registered actions.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	return names
}

func lookupEnv(env []string, key string) string {
	prefix := key + "="
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return env[i][len(prefix):]
		}
	}
	return ""
}

func run(ctx context.Context, ac *core.ActionContext, dir, name string, args ...string) error {
	fmt.Fprintf(ac.Output, "[command]%s %s\n", name, strings.Join(args, " "))
	return ac.Exec.RunCommand(ctx, core.Command{
		Name:   name,
		Args:   args,
		Dir:    dir,
		Env:    ac.Env,
		Stdout: ac.Output,
	})
}
