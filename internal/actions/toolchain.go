package actions

import (
	"context"
	"fmt"
	"strings"

	"workflowci/internal/core"
)

// Toolchain installs an exactly pinned Rust toolchain with rustup. Inputs:
// toolchain (required, X.Y.Z), profile (default "default"), components,
// override and default.
type Toolchain struct{}

func (t *Toolchain) Run(ctx context.Context, ac *core.ActionContext) error {
	version := strings.TrimSpace(ac.With["toolchain"])
	if err := core.CheckPinnedVersion(version); err != nil {
		return err
	}

	args := []string{"toolchain", "install", version, "--profile", ac.Input("profile", "default"), "--no-self-update"}
	for _, c := range splitList(ac.With["components"]) {
		args = append(args, "--component", c)
	}
	if err := run(ctx, ac, ac.Workspace, "rustup", args...); err != nil {
		return fmt.Errorf("install toolchain %s: %w", version, err)
	}

	switch {
	case isTrue(ac.With["override"]):
		if err := run(ctx, ac, ac.Workspace, "rustup", "override", "set", version); err != nil {
			return fmt.Errorf("override toolchain: %w", err)
		}
	case isTrue(ac.With["default"]):
		if err := run(ctx, ac, ac.Workspace, "rustup", "default", version); err != nil {
			return fmt.Errorf("default toolchain: %w", err)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		out = append(out, f)
	}
	return out
}

func isTrue(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}
