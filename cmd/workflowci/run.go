package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"workflowci/internal/core"
)

type eventFlags struct {
	name     string
	action   string
	ref      string
	headRef  string
	baseRef  string
	sha      string
	cloneURL string
	schedule string
}

func (f *eventFlags) event() (core.Event, error) {
	ev := core.Event{
		Name:     f.name,
		Action:   f.action,
		Ref:      f.ref,
		HeadRef:  f.headRef,
		BaseRef:  f.baseRef,
		SHA:      f.sha,
		CloneURL: f.cloneURL,
		Schedule: f.schedule,
		Time:     time.Now().UTC(),
	}
	switch ev.Name {
	case core.EventPullRequest:
		if ev.Action == "" {
			ev.Action = "opened"
		}
	case core.EventPush:
		if ev.Ref == "" {
			return ev, fmt.Errorf("--ref is required for push events")
		}
		// head and base refs only exist for pull requests
		ev.HeadRef, ev.BaseRef = "", ""
	case core.EventSchedule:
		ev.HeadRef, ev.BaseRef = "", ""
	default:
		return ev, fmt.Errorf("unsupported event %q", ev.Name)
	}
	if ev.Ref != "" && !strings.HasPrefix(ev.Ref, "refs/") {
		ev.Ref = "refs/heads/" + ev.Ref
	}
	return ev, nil
}

func newRunCmd(a *app) *cobra.Command {
	f := &eventFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the jobs an event starts",
		Example: `  workflowci run --event pull_request --head-ref ci-fix-parser --base-ref master
  workflowci run --event push --ref master
  workflowci run --event schedule`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := f.event()
			if err != nil {
				return err
			}
			w, err := a.loadWorkflow("")
			if err != nil {
				return err
			}
			r, err := a.newRunner()
			if err != nil {
				return err
			}
			r.Output = cmd.OutOrStdout()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEvent(ctx, r, w, ev, cmd.OutOrStdout())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.name, "event", core.EventPullRequest, "event name: pull_request, push or schedule")
	fl.StringVar(&f.action, "action", "", "pull request activity type (default opened)")
	fl.StringVar(&f.ref, "ref", "", "git ref of the event, e.g. master or refs/heads/master")
	fl.StringVar(&f.headRef, "head-ref", "", "pull request source branch")
	fl.StringVar(&f.baseRef, "base-ref", "", "pull request target branch")
	fl.StringVar(&f.sha, "sha", "", "commit to check out")
	fl.StringVar(&f.cloneURL, "clone-url", "", "repository to clone when the workspace is empty")
	fl.StringVar(&f.schedule, "schedule", "", "cron expression that fired (schedule events)")
	return cmd
}

// runEvent runs the workflow for ev and prints a summary. It returns
// errJobFailed when any job failed.
func runEvent(ctx context.Context, r *core.Runner, w *core.Workflow, ev core.Event, out io.Writer) error {
	results, err := r.RunWorkflow(ctx, w, ev)
	if errors.Is(err, core.ErrNotTriggered) {
		fmt.Fprintf(out, "%s does not trigger %q\n", ev.Name, w.Name)
		return nil
	}
	if err != nil {
		return err
	}

	failed := false
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, res := range results {
		fmt.Fprintf(tw, "\njob %s\t%s\t%s\n", res.JobID, res.Status, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
		for _, s := range res.Steps {
			fmt.Fprintf(tw, "  %d. %s\t%s\t%s\n", s.Index+1, s.Name, s.State, s.Duration.Round(time.Millisecond))
		}
		if res.Error != "" {
			fmt.Fprintf(tw, "  error: %s\n", res.Error)
		}
		if res.Status == core.JobFailed {
			failed = true
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed {
		return errJobFailed
	}
	return nil
}
