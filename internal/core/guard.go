package core

import (
	"fmt"
	"runtime"
	"strings"
)

// ExprContext is what expressions can see while a job runs.
type ExprContext struct {
	// Contexts maps root names (github, env, runner, job, inputs) to objects.
	Contexts map[string]any

	// Failed is set once a step of the current job has failed.
	Failed bool
	// Cancelled is set once the job's context is done.
	Cancelled bool
}

func (c *ExprContext) lookupRoot(name string) any {
	if c == nil || c.Contexts == nil {
		return nil
	}
	return lookupFold(c.Contexts, name)
}

// NewExprContext builds the github, env and runner contexts for a job run.
// Fields that do not apply to the event (head_ref on a push) are empty strings.
func NewExprContext(w *Workflow, job *Job, ev Event, runID string, env map[string]string) *ExprContext {
	github := map[string]any{
		"event_name": ev.Name,
		"ref":        ev.Ref,
		"ref_name":   branchName(ev.Ref),
		"head_ref":   "",
		"base_ref":   "",
		"sha":        ev.SHA,
		"run_id":     runID,
		"workflow":   w.Name,
		"job":        job.ID,
		"event": map[string]any{
			"action":   ev.Action,
			"schedule": ev.Schedule,
		},
	}
	if ev.Name == EventPullRequest {
		github["head_ref"] = ev.HeadRef
		github["base_ref"] = ev.BaseRef
	}
	return &ExprContext{
		Contexts: map[string]any{
			"github": github,
			"env":    envObject(env),
			"runner": map[string]any{
				"os":   runnerOS(),
				"arch": strings.ToUpper(runtime.GOARCH),
			},
			"job": map[string]any{"status": "success"},
		},
	}
}

// withEnv returns a copy of c whose env context is env.
func (c *ExprContext) withEnv(env map[string]string) *ExprContext {
	cp := *c
	cp.Contexts = make(map[string]any, len(c.Contexts))
	for k, v := range c.Contexts {
		cp.Contexts[k] = v
	}
	cp.Contexts["env"] = envObject(env)
	return &cp
}

func envObject(env map[string]string) map[string]any {
	obj := make(map[string]any, len(env))
	for k, v := range env {
		obj[k] = v
	}
	return obj
}

func runnerOS() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}

// EvalGuard evaluates a job guard. An empty guard always passes.
func EvalGuard(guard string, ctx *ExprContext) (bool, error) {
	if strings.TrimSpace(guard) == "" {
		return true, nil
	}
	expr, err := ParseExpr(guard)
	if err != nil {
		return false, fmt.Errorf("job guard %q: %w", guard, err)
	}
	return expr.EvalBool(ctx)
}

// EvalStepCondition evaluates a step "if:". Without a status function the
// condition is implicitly "success() && (cond)".
func EvalStepCondition(cond string, ctx *ExprContext) (bool, error) {
	if strings.TrimSpace(cond) == "" {
		cond = "success()"
	}
	expr, err := ParseExpr(cond)
	if err != nil {
		return false, fmt.Errorf("step condition %q: %w", cond, err)
	}
	ok, err := expr.EvalBool(ctx)
	if err != nil {
		return false, err
	}
	if !expr.usesStatusFunction() {
		ok = ok && !ctx.Failed && !ctx.Cancelled
	}
	return ok, nil
}

// Interpolate expands every "${{ expr }}" in s.
func Interpolate(s string, ctx *ExprContext) (string, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}
	var sb strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${{")
		if start < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		sb.WriteString(rest[:start])
		end := closingBraces(rest, start+3)
		if end < 0 {
			return "", fmt.Errorf("%w: unclosed ${{ in %q", ErrExpression, s)
		}
		expr, err := ParseExpr(rest[start+3 : end])
		if err != nil {
			return "", err
		}
		v, err := expr.Eval(ctx)
		if err != nil {
			return "", err
		}
		sb.WriteString(toString(v))
		rest = rest[end+2:]
	}
}

// closingBraces finds the "}}" ending an expression, skipping string literals.
func closingBraces(s string, from int) int {
	inString := false
	for i := from; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inString = !inString
		case !inString && s[i] == '}' && i+1 < len(s) && s[i+1] == '}':
			return i
		}
	}
	return -1
}

// InterpolateMap expands expressions in every value of m.
func InterpolateMap(m map[string]string, ctx *ExprContext) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		expanded, err := Interpolate(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}
