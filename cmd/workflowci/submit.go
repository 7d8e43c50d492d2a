package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"workflowci/internal/core"
	"workflowci/internal/server"
)

func newSubmitCmd(a *app) *cobra.Command {
	f := &eventFlags{}
	var serverURL string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Send an event to a running workflowci serve",
		Example: `  workflowci submit --server http://ci.local:8080 --event pull_request --head-ref ci-fix --base-ref master`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := f.event()
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = "http://localhost" + a.cfg.Server.Addr
			}
			ids, err := submitEvent(&http.Client{Timeout: 30 * time.Second}, serverURL, a.cfg.Server.WebhookSecret, ev)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s does not trigger the workflow\n", ev.Name)
				return nil
			}
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "queued run %s\n", id)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&serverURL, "server", "", "server base URL (default http://localhost<server.addr>)")
	fl.StringVar(&f.name, "event", core.EventPullRequest, "event name: pull_request, push or schedule")
	fl.StringVar(&f.action, "action", "", "pull request activity type (default opened)")
	fl.StringVar(&f.ref, "ref", "", "git ref of the event")
	fl.StringVar(&f.headRef, "head-ref", "", "pull request source branch")
	fl.StringVar(&f.baseRef, "base-ref", "", "pull request target branch")
	fl.StringVar(&f.sha, "sha", "", "commit to check out")
	fl.StringVar(&f.cloneURL, "clone-url", "", "repository to clone")
	return cmd
}

// submitEvent posts ev to /events and returns the queued run ids. The body
// is signed when secret is set.
func submitEvent(client *http.Client, serverURL, secret string, ev core.Event) ([]string, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(serverURL, "/")+"/events", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(server.SignatureHeader, server.SignPayload(secret, body))
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit event: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusAccepted:
		var out struct {
			Runs []string `json:"runs"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return out.Runs, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
}
