package actions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"workflowci/internal/cache"
	"workflowci/internal/core"
	"workflowci/internal/logger"
	"workflowci/pkg/utils"
)

var (
	cargoHomePaths = []string{"registry/index", "registry/cache", "git/db"}
	targetPaths    = []string{"target"}
	keyFiles       = []string{"Cargo.lock", "Cargo.toml", "rust-toolchain", "rust-toolchain.toml"}
)

// RustCache restores the cargo registry, git sources and target directory
// keyed by platform, rustc and the lock file, and saves them after a
// successful job when no archive exists for the key yet.
type RustCache struct {
	Store *cache.Store
}

func NewRustCache(store *cache.Store) *RustCache {
	return &RustCache{Store: store}
}

func (c *RustCache) Run(ctx context.Context, ac *core.ActionContext) error {
	if c.Store == nil {
		fmt.Fprintln(ac.Output, "no cache store configured, skipping")
		return nil
	}
	cargoHome, err := cargoHomeDir(ac.Env)
	if err != nil {
		return err
	}

	key, err := c.key(ctx, ac)
	if err != nil {
		return err
	}
	fmt.Fprintf(ac.Output, "cache key: %s\n", key)

	hits := 0
	for _, part := range []struct{ suffix, root string }{{"cargo", cargoHome}, {"target", ac.Workspace}} {
		hit, err := c.Store.Restore(key+"-"+part.suffix, part.root)
		if err != nil {
			// a broken archive only costs a cold build
			logger.LogWarn("cache restore failed", map[string]interface{}{"key": key, "error": err.Error()})
			continue
		}
		if hit {
			hits++
		}
	}
	fmt.Fprintf(ac.Output, "cache-hit=%t\n", hits == 2)

	ac.AddPost("save rust cache", func(ctx context.Context, out io.Writer) error {
		for _, part := range []struct {
			suffix, root string
			paths        []string
		}{{"cargo", cargoHome, cargoHomePaths}, {"target", ac.Workspace, targetPaths}} {
			k := key + "-" + part.suffix
			if c.Store.Has(k) {
				fmt.Fprintf(out, "cache %s already saved\n", k)
				continue
			}
			if err := c.Store.Save(k, part.root, part.paths); err != nil {
				return fmt.Errorf("save %s: %w", k, err)
			}
			fmt.Fprintf(out, "saved cache %s\n", k)
		}
		return nil
	})
	return nil
}

// key hashes the platform, the active rustc and the manifest files.
func (c *RustCache) key(ctx context.Context, ac *core.ActionContext) (string, error) {
	var rustc bytes.Buffer
	err := ac.Exec.RunCommand(ctx, core.Command{
		Name:   "rustc",
		Args:   []string{"-vV"},
		Dir:    ac.Workspace,
		Env:    ac.Env,
		Stdout: &rustc,
	})
	if err != nil {
		logger.LogWarn("cannot determine rustc version for cache key", map[string]interface{}{"error": err.Error()})
		rustc.Reset()
	}

	files := make([]string, 0, len(keyFiles))
	for _, f := range keyFiles {
		files = append(files, filepath.Join(ac.Workspace, f))
	}
	labels := []string{runtime.GOOS, runtime.GOARCH, strings.TrimSpace(rustc.String()), ac.Input("key", "")}
	sum, err := utils.HashParts(labels, files)
	if err != nil {
		return "", err
	}
	prefix := ac.Input("prefix-key", "v0-rust")
	return prefix + "-" + sum[:20], nil
}

func cargoHomeDir(env []string) (string, error) {
	if home := lookupEnv(env, "CARGO_HOME"); home != "" {
		return home, nil
	}
	home := lookupEnv(env, "HOME")
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return "", fmt.Errorf("cannot locate cargo home: %w", err)
		}
	}
	return filepath.Join(home, ".cargo"), nil
}
