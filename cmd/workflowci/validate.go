package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"workflowci/internal/core"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a workflow descriptor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			w, err := a.loadWorkflow(path)
			var verr *core.ValidationError
			if errors.As(err, &verr) {
				for _, p := range verr.Problems {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", p)
				}
				return fmt.Errorf("%d problem(s) found", len(verr.Problems))
			}
			if err != nil {
				return err
			}
			name := w.Path
			if name == "" {
				name = "embedded workflow"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %q is valid (%d job(s))\n", name, w.Name, len(w.Jobs))
			return nil
		},
	}
}
