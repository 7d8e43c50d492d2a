package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"workflowci/internal/core"
)

// Checkout places the event's revision in the workspace. Inputs:
// repository (defaults to the event clone URL) and ref (defaults to the event SHA).
type Checkout struct{}

func (c *Checkout) Run(ctx context.Context, ac *core.ActionContext) error {
	ws := ac.Workspace
	url := ac.Input("repository", ac.Event.CloneURL)
	ref := ac.Input("ref", ac.Event.SHA)

	var repo *git.Repository
	if isCheckout(ws) {
		fmt.Fprintf(ac.Output, "using existing checkout in %s\n", ws)
		if ref == "" {
			return nil
		}
		r, err := git.PlainOpen(ws)
		if err != nil {
			return fmt.Errorf("open %s: %w", ws, err)
		}
		repo = r
	} else {
		if url == "" {
			return fmt.Errorf("%w: no repository to clone and %s is not a checkout", core.ErrInvalidInput, ws)
		}
		empty, err := isEmptyDir(ws)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("cannot clone into %s: directory is not empty", ws)
		}
		fmt.Fprintf(ac.Output, "cloning %s into %s\n", url, ws)
		r, err := git.PlainCloneContext(ctx, ws, false, &git.CloneOptions{
			URL:        url,
			NoCheckout: true,
			Progress:   ac.Output,
		})
		if err != nil {
			return fmt.Errorf("clone %s: %w", url, err)
		}
		repo = r
		if ref == "" {
			ref = "HEAD"
		}
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", ref, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", ref, err)
	}
	fmt.Fprintf(ac.Output, "HEAD is now at %s\n", hash.String()[:12])
	return nil
}

func isCheckout(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return true, os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
