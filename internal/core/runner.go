package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"workflowci/internal/ledger"
	"workflowci/internal/logger"
	"workflowci/internal/storage"
	"workflowci/pkg/utils"
)

// ErrNotTriggered is returned when no declared trigger accepts an event.
var ErrNotTriggered = errors.New("event does not trigger the workflow")

// StepResult is the outcome of one step.
type StepResult struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	State    StepState     `json:"state"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	LogPath  string        `json:"log_path,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// RunResult is the outcome of one job instance.
type RunResult struct {
	ID         string        `json:"id"`
	Workflow   string        `json:"workflow"`
	JobID      string        `json:"job"`
	Event      Event         `json:"event"`
	Status     JobStatus     `json:"status"`
	Steps      []*StepResult `json:"steps"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r *RunResult) Clone() *RunResult {
	c := *r
	c.Steps = make([]*StepResult, len(r.Steps))
	for i, s := range r.Steps {
		sc := *s
		c.Steps[i] = &sc
	}
	return &c
}

// RunRequest names one job instance to execute.
type RunRequest struct {
	ID       string // generated when empty
	Workflow *Workflow
	JobID    string
	Event    Event
}

// Runner ties together Scheduler + Executor + actions + storage + ledger
type Runner struct {
	Scheduler  *Scheduler
	Executor   *Executor
	Commands   CommandRunner // runs step processes, defaults to Executor
	Actions    ActionResolver
	LogStorage *storage.LogStorage
	Ledger     *ledger.Ledger

	// Labels this runner offers; a job runs only if all its runs-on labels are
	// present. An empty set accepts every job.
	Labels []string
	// Workspace is the checkout directory; a temporary one is created per run when empty.
	Workspace string
	// IsolateWorkspaces gives every run its own <Workspace>/<run id> directory,
	// removed when the run ends. Required when runs execute in parallel.
	IsolateWorkspaces bool
	// BypassGuard lists event names for which job guards are not evaluated.
	BypassGuard []string
	// BaseEnv replaces the runner's process environment when set.
	BaseEnv  map[string]string
	RunnerID string
	// Output receives live step output when set.
	Output io.Writer
	// Preflight runs once the workspace is ready, before the first step. The
	// variables it returns join the job environment below workflow and job
	// env; an error fails the job.
	Preflight func(ctx context.Context) (map[string]string, error)
	// Notify receives a snapshot after every state change.
	Notify func(*RunResult)
}

func NewRunner() *Runner {
	executor := NewExecutor()
	return &Runner{
		Scheduler: NewScheduler(),
		Executor:  executor,
		Commands:  executor,
		RunnerID:  "local-runner",
	}
}

// RunWorkflow runs every job ev starts, sequentially.
func (r *Runner) RunWorkflow(ctx context.Context, w *Workflow, ev Event) ([]*RunResult, error) {
	jobs := r.Scheduler.JobsFor(w, ev)
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotTriggered, ev.Name)
	}
	results := make([]*RunResult, 0, len(jobs))
	for _, id := range jobs {
		results = append(results, r.RunJob(ctx, RunRequest{Workflow: w, JobID: id, Event: ev}))
	}
	return results, nil
}

// RunJob executes one job instance. Steps run strictly in order; the first
// failing step fails the job and later steps are skipped unless their
// condition asks to run on failure.
func (r *Runner) RunJob(ctx context.Context, req RunRequest) *RunResult {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	w := req.Workflow
	job := w.Jobs[req.JobID]
	res := &RunResult{
		ID:        req.ID,
		Workflow:  w.Name,
		JobID:     req.JobID,
		Event:     req.Event,
		Status:    JobPending,
		StartedAt: time.Now().UTC(),
	}
	log := logger.WithFields(map[string]interface{}{"run": res.ID, "job": req.JobID, "event": req.Event.Name})

	if job == nil {
		r.finish(res, JobFailed, fmt.Errorf("%w: unknown job %q", ErrInvalidWorkflow, req.JobID))
		return res
	}
	for i := range job.Steps {
		res.Steps = append(res.Steps, &StepResult{Index: i, Name: job.Steps[i].DisplayName(), State: StepPending})
	}
	r.notify(res)

	env := r.jobEnv(w, job, req.Event, res.ID)
	exprCtx := NewExprContext(w, job, req.Event, res.ID, env)

	// Job Guard
	if contains(r.BypassGuard, req.Event.Name) {
		log.Debugw("job guard bypassed", "guard", job.If)
	} else {
		ok, err := EvalGuard(job.If, exprCtx)
		if err != nil {
			r.finish(res, JobFailed, err)
			return res
		}
		if !ok {
			log.Infow("job guard is false, skipping job", "guard", job.If, "head_ref", req.Event.HeadRef)
			for _, s := range res.Steps {
				_ = s.transition(StepSkipped)
			}
			r.finish(res, JobSkipped, nil)
			return res
		}
	}

	if !labelsMatch(job.RunsOn, r.Labels) {
		r.finish(res, JobFailed, fmt.Errorf("%w: job wants %s, runner offers %s", ErrNoMatchingRunner, job.RunsOn, strings.Join(r.Labels, ",")))
		return res
	}

	workspace, runTemp, cleanup, err := r.prepareDirs(res.ID)
	if err != nil {
		r.finish(res, JobFailed, fmt.Errorf("prepare workspace: %w", err))
		return res
	}
	defer cleanup()
	env["GITHUB_WORKSPACE"] = workspace
	env["RUNNER_TEMP"] = runTemp

	if r.Preflight != nil {
		vars, err := r.Preflight(ctx)
		if err != nil {
			r.finish(res, JobFailed, fmt.Errorf("preflight: %w", err))
			return res
		}
		for k, v := range vars {
			if _, ok := w.Env[k]; ok {
				continue
			}
			if _, ok := job.Env[k]; ok {
				continue
			}
			env[k] = v
		}
	}

	_ = res.transition(JobRunning)
	r.notify(res)
	log.Infow("starting job", "workflow", w.Name, "runs_on", job.RunsOn.String(), "workspace", workspace)

	jobCtx := ctx
	if t := job.Timeout(); t > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	var (
		firstErr error
		posts    []namedHook
	)
	for i := range job.Steps {
		step := &job.Steps[i]
		sr := res.Steps[i]
		exprCtx.Failed = firstErr != nil
		exprCtx.Cancelled = jobCtx.Err() != nil

		exprCtx.Contexts["env"] = envObject(env)
		run, err := EvalStepCondition(step.If, exprCtx)
		if err != nil {
			_ = sr.transition(StepRunning)
			r.endStep(res, sr, StepFailed, err, "")
			firstErr = stepError(firstErr, sr, err)
			continue
		}
		if !run {
			_ = sr.transition(StepSkipped)
			r.notify(res)
			log.Debugw("skipping step", "step", sr.Name)
			continue
		}

		_ = sr.transition(StepRunning)
		r.notify(res)
		log.Infow("running step", "step", sr.Name, "index", i+1)

		state, output, stepErr := r.runStep(jobCtx, step, sr, env, exprCtx, req.Event, workspace, runTemp, &posts)
		r.endStep(res, sr, state, stepErr, output)
		if state.IsFailure() {
			if step.ContinueOnError {
				log.Warnw("step failed, continuing", "step", sr.Name, "error", stepErr)
				continue
			}
			firstErr = stepError(firstErr, sr, stepErr)
		}
	}

	if firstErr == nil {
		for i := len(posts) - 1; i >= 0; i-- {
			var out bytes.Buffer
			if err := posts[i].hook(jobCtx, r.tee(&out)); err != nil {
				log.Errorw("post step failed", "hook", posts[i].name, "error", err)
				firstErr = fmt.Errorf("post %s: %w", posts[i].name, err)
				break
			}
		}
	}

	if firstErr != nil {
		r.finish(res, JobFailed, firstErr)
		return res
	}
	r.finish(res, JobSuccess, nil)
	return res
}

type namedHook struct {
	name string
	hook PostHook
}

// runStep executes one step and classifies its outcome.
func (r *Runner) runStep(jobCtx context.Context, step *Step, sr *StepResult, env map[string]string, exprCtx *ExprContext, ev Event, workspace, runTemp string, posts *[]namedHook) (StepState, string, error) {
	var out bytes.Buffer
	w := r.tee(&out)

	stepCtx := jobCtx
	if t := step.Timeout(); t > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(jobCtx, t)
		defer cancel()
	}

	stepEnv := make(map[string]string, len(env)+8)
	merge(stepEnv, env)
	extra, err := InterpolateMap(step.Env, exprCtx)
	if err != nil {
		return StepFailed, out.String(), err
	}
	merge(stepEnv, extra)
	exprCtx = exprCtx.withEnv(stepEnv)

	envFile := filepath.Join(runTemp, fmt.Sprintf("env-%02d", sr.Index))
	pathFile := filepath.Join(runTemp, fmt.Sprintf("path-%02d", sr.Index))
	for _, f := range []string{envFile, pathFile} {
		if err := os.WriteFile(f, nil, 0o644); err != nil {
			return StepFailed, out.String(), err
		}
	}
	stepEnv[envFileVar] = envFile
	stepEnv[pathFileVar] = pathFile

	dir := workspace
	if step.WorkingDirectory != "" {
		dir = filepath.Join(workspace, step.WorkingDirectory)
	}

	started := time.Now()
	if step.Uses != "" {
		err = r.runAction(stepCtx, step, ev, dir, stepEnv, exprCtx, w, posts)
	} else {
		err = r.runScript(stepCtx, step, dir, stepEnv, exprCtx, w)
	}
	sr.Duration = time.Since(started)
	sr.ExitCode = ExitCode(err)

	switch {
	case err == nil:
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		if t := step.Timeout(); t > 0 && !errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return StepTimedOut, out.String(), fmt.Errorf("%w after %s", ErrStepTimeout, t)
		}
		return StepTimedOut, out.String(), ErrJobTimeout
	default:
		return StepFailed, out.String(), fmt.Errorf("%w: %v", ErrStepFailed, err)
	}

	if err := r.applyExports(env, envFile, pathFile); err != nil {
		return StepFailed, out.String(), err
	}
	return StepSuccess, out.String(), nil
}

func (r *Runner) runScript(ctx context.Context, step *Step, dir string, env map[string]string, exprCtx *ExprContext, w io.Writer) error {
	script, err := Interpolate(step.Run, exprCtx)
	if err != nil {
		return err
	}
	cmd, cleanup, err := r.Executor.ScriptCommand(step.Shell, script)
	if err != nil {
		return err
	}
	defer cleanup()
	cmd.Dir = dir
	cmd.Env = environ(env)
	cmd.Stdout = w
	return r.commands().RunCommand(ctx, cmd)
}

func (r *Runner) runAction(ctx context.Context, step *Step, ev Event, dir string, env map[string]string, exprCtx *ExprContext, w io.Writer, posts *[]namedHook) error {
	if r.Actions == nil {
		return fmt.Errorf("%w: %s (no action registry)", ErrUnknownAction, step.Uses)
	}
	action, err := r.Actions.Resolve(step.Uses)
	if err != nil {
		return err
	}
	with, err := InterpolateMap(step.With, exprCtx)
	if err != nil {
		return err
	}
	ac := NewActionContext(func(name string, hook PostHook) {
		*posts = append(*posts, namedHook{name: name, hook: hook})
	})
	ac.Step = step
	ac.With = with
	ac.Event = ev
	ac.Workspace = dir
	ac.Env = environ(env)
	ac.Output = w
	ac.Exec = r.commands()
	return action.Run(ctx, ac)
}

// applyExports merges what a step wrote to GITHUB_ENV and GITHUB_PATH into
// the job environment.
func (r *Runner) applyExports(env map[string]string, envFile, pathFile string) error {
	data, err := os.ReadFile(envFile)
	if err != nil {
		return err
	}
	vars, err := ParseEnvFile(data)
	if err != nil {
		return fmt.Errorf("%s: %w", envFileVar, err)
	}
	merge(env, vars)

	data, err = os.ReadFile(pathFile)
	if err != nil {
		return err
	}
	dirs := ParsePathFile(data)
	if len(dirs) > 0 {
		for i, j := 0, len(dirs)-1; i < j; i, j = i+1, j-1 {
			dirs[i], dirs[j] = dirs[j], dirs[i]
		}
		if env["PATH"] != "" {
			dirs = append(dirs, env["PATH"])
		}
		env["PATH"] = strings.Join(dirs, string(os.PathListSeparator))
	}
	return nil
}

// jobEnv layers process env, platform variables, workflow env and job env.
func (r *Runner) jobEnv(w *Workflow, job *Job, ev Event, runID string) map[string]string {
	env := r.BaseEnv
	if env == nil {
		env = processEnv()
	}
	out := make(map[string]string, len(env)+16)
	merge(out, env)
	merge(out, map[string]string{
		"CI":                "true",
		"GITHUB_ACTIONS":    "true",
		"GITHUB_WORKFLOW":   w.Name,
		"GITHUB_JOB":        job.ID,
		"GITHUB_RUN_ID":     runID,
		"GITHUB_EVENT_NAME": ev.Name,
		"GITHUB_REF":        ev.Ref,
		"GITHUB_SHA":        ev.SHA,
		"GITHUB_HEAD_REF":   ev.HeadRef,
		"GITHUB_BASE_REF":   ev.BaseRef,
		"RUNNER_OS":         runnerOS(),
	})

	// workflow and job env may reference each other only through the github context
	base := NewExprContext(w, job, ev, runID, nil)
	for _, layer := range []map[string]string{w.Env, job.Env} {
		expanded, err := InterpolateMap(layer, base)
		if err != nil {
			logger.LogWarn("cannot expand env", map[string]interface{}{"error": err.Error()})
			expanded = layer
		}
		merge(out, expanded)
	}
	return out
}

func (r *Runner) prepareDirs(runID string) (workspace, runTemp string, cleanup func(), err error) {
	runTemp, err = os.MkdirTemp("", "workflowci-"+runID+"-")
	if err != nil {
		return "", "", nil, err
	}
	cleanup = func() { _ = os.RemoveAll(runTemp) }

	workspace = r.Workspace
	switch {
	case workspace == "":
		workspace = filepath.Join(runTemp, "workspace")
	case r.IsolateWorkspaces:
		workspace = filepath.Join(workspace, filepath.Base(runID))
		perRun := workspace
		cleanup = func() {
			_ = os.RemoveAll(runTemp)
			_ = os.RemoveAll(perRun)
		}
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		cleanup()
		return "", "", nil, err
	}
	if workspace, err = filepath.Abs(workspace); err != nil {
		cleanup()
		return "", "", nil, err
	}
	return workspace, runTemp, cleanup, nil
}

func (r *Runner) endStep(res *RunResult, sr *StepResult, state StepState, err error, output string) {
	_ = sr.transition(state)
	if err != nil {
		sr.Error = err.Error()
		if output != "" && !strings.HasSuffix(output, "\n") {
			output += "\n"
		}
		output += "error: " + err.Error() + "\n"
	}
	r.record(res, sr, output)
	r.notify(res)
}

// record saves the step log and appends it to the ledger (best-effort; a
// missing ledger never blocks the job).
func (r *Runner) record(res *RunResult, sr *StepResult, output string) {
	if r.LogStorage == nil {
		return
	}
	logPath, err := r.LogStorage.SaveLog(res.ID, sr.Index, sr.Name, output)
	if err != nil {
		logger.LogError("failed to save step log", err, map[string]interface{}{"run": res.ID, "step": sr.Name})
		return
	}
	sr.LogPath = logPath

	if r.Ledger == nil {
		return
	}
	logHash, err := utils.HashFile(logPath)
	if err != nil {
		logger.LogWarn("cannot hash step log", map[string]interface{}{"path": logPath, "error": err.Error()})
		return
	}
	blk, err := r.Ledger.Append(ledger.Record{
		RunID:    res.ID,
		Job:      res.JobID,
		Step:     sr.Name,
		State:    string(sr.State),
		LogPath:  logPath,
		LogHash:  logHash,
		RunnerID: r.RunnerID,
	})
	if err != nil {
		logger.LogWarn("cannot append ledger block", map[string]interface{}{"error": err.Error()})
		return
	}
	logger.LogDebug("ledger block appended", map[string]interface{}{"index": blk.Index, "hash": blk.Hash})
}

func (r *Runner) finish(res *RunResult, status JobStatus, err error) {
	if terr := res.transition(status); terr != nil {
		logger.LogError("job state", terr, nil)
		res.Status = JobFailed
	}
	// a finished job reports no unfinished steps
	for _, s := range res.Steps {
		if !s.State.IsTerminal() {
			_ = s.transition(StepSkipped)
		}
	}
	if err != nil {
		res.Error = err.Error()
	}
	res.FinishedAt = time.Now().UTC()
	fields := map[string]interface{}{
		"run":      res.ID,
		"job":      res.JobID,
		"status":   string(res.Status),
		"duration": res.FinishedAt.Sub(res.StartedAt).String(),
	}
	if err != nil {
		logger.LogError("job finished", err, fields)
	} else {
		logger.LogInfo("job finished", fields)
	}
	r.notify(res)
}

func (r *Runner) notify(res *RunResult) {
	if r.Notify != nil {
		r.Notify(res.Clone())
	}
}

func (r *Runner) commands() CommandRunner {
	if r.Commands != nil {
		return r.Commands
	}
	return r.Executor
}

func (r *Runner) tee(buf *bytes.Buffer) io.Writer {
	if r.Output == nil {
		return buf
	}
	return io.MultiWriter(buf, r.Output)
}

func stepError(prev error, sr *StepResult, err error) error {
	if prev != nil {
		return prev
	}
	return &StepError{Step: sr.Name, State: sr.State, Err: err}
}

// labelsMatch reports whether the runner offers every label the job asks for.
func labelsMatch(want Labels, offered []string) bool {
	if len(offered) == 0 {
		return true
	}
	for _, l := range want {
		found := false
		for _, o := range offered {
			if strings.EqualFold(l, o) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
