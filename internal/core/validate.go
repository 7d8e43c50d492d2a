package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// ToolchainAction is the reusable action that installs a pinned Rust toolchain.
const ToolchainAction = "actions-rs/toolchain"

var exactVersion = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Validate checks a descriptor and returns a *ValidationError listing every
// problem, or nil.
func Validate(w *Workflow) error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if w.On.Empty() {
		problems = append(problems, ErrNoTrigger)
	}
	for i, s := range w.On.Schedule {
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			add("schedule[%d]: cron %q: %w", i, s.Cron, err)
		}
	}
	if len(w.Jobs) == 0 {
		problems = append(problems, ErrNoJobs)
	}

	for _, id := range w.JobIDs() {
		job := w.Jobs[id]
		if len(job.RunsOn) == 0 {
			add("job %q: runs-on is required", id)
		}
		if len(job.Steps) == 0 {
			add("job %q: at least one step is required", id)
		}
		if job.TimeoutMinutes < 0 {
			add("job %q: timeout-minutes must be positive", id)
		}
		if job.If != "" {
			if _, err := ParseExpr(job.If); err != nil {
				add("job %q: if: %w", id, err)
			}
		}
		for i := range job.Steps {
			for _, err := range validateStep(&job.Steps[i]) {
				add("job %q step %d (%s): %w", id, i+1, job.Steps[i].DisplayName(), err)
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

func validateStep(s *Step) []error {
	var errs []error
	hasUses := strings.TrimSpace(s.Uses) != ""
	hasRun := strings.TrimSpace(s.Run) != ""
	switch {
	case hasUses && hasRun:
		errs = append(errs, fmt.Errorf("uses and run are mutually exclusive"))
	case !hasUses && !hasRun:
		errs = append(errs, fmt.Errorf("one of uses or run is required"))
	}
	if s.TimeoutMinutes < 0 {
		errs = append(errs, fmt.Errorf("timeout-minutes must be positive"))
	}
	if s.If != "" {
		if _, err := ParseExpr(s.If); err != nil {
			errs = append(errs, fmt.Errorf("if: %w", err))
		}
	}
	if hasUses {
		name, _ := SplitUses(s.Uses)
		if strings.EqualFold(name, ToolchainAction) {
			if err := CheckPinnedVersion(s.With["toolchain"]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// CheckPinnedVersion rejects channels such as "stable" and partial versions.
func CheckPinnedVersion(version string) error {
	if !exactVersion.MatchString(strings.TrimSpace(version)) {
		return fmt.Errorf("%w: got %q", ErrFloatingVersion, version)
	}
	return nil
}

// SplitUses splits "owner/repo@ref" into the action name and its ref.
func SplitUses(uses string) (name, ref string) {
	uses = strings.TrimSpace(uses)
	if i := strings.LastIndexByte(uses, '@'); i >= 0 {
		return uses[:i], uses[i+1:]
	}
	return uses, ""
}
