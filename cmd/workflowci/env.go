package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"workflowci/internal/gitenv"
)

func newEnvCmd(a *app) *cobra.Command {
	var githubEnv bool
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print TEST_GIT and TEST_GIT_EXEC_PATH for the test step",
		Long: `env locates git and prints the variables the test step exports.
With --github-env the lines are appended to the file named by $GITHUB_ENV.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := gitenv.NewProber().Probe(cmd.Context())
			if err != nil {
				return err
			}
			if err := g.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if githubEnv {
				path := os.Getenv("GITHUB_ENV")
				if path == "" {
					return fmt.Errorf("GITHUB_ENV is not set")
				}
				f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			env := g.Env()
			keys := make([]string, 0, len(env))
			for k := range env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s=%s\n", k, env[k])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&githubEnv, "github-env", false, "append to $GITHUB_ENV instead of printing")
	return cmd
}
