package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LogStorage manages saving step logs to files, one directory per run
type LogStorage struct {
	BaseDir string
}

// NewLogStorage creates a new log storage handler
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// SaveLog saves the output of one step as <base>/<run>/<nn>-<step>.log
func (ls *LogStorage) SaveLog(runID string, index int, step string, output string) (string, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(runID))
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%02d-%s.log", index+1, sanitize(step))
	filePath := filepath.Join(dir, filename)

	if err := os.WriteFile(filePath, []byte(output), 0o644); err != nil {
		return "", err
	}
	return filePath, nil
}

// RunLogs lists the log files of a run in step order.
func (ls *LogStorage) RunLogs(runID string) ([]string, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(runID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".log" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadLog returns the log of the step at index within a run.
func (ls *LogStorage) ReadLog(runID string, index int) ([]byte, error) {
	paths, err := ls.RunLogs(runID)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("%02d-", index+1)
	for _, p := range paths {
		if len(filepath.Base(p)) > len(prefix) && filepath.Base(p)[:len(prefix)] == prefix {
			return os.ReadFile(p)
		}
	}
	return nil, os.ErrNotExist
}

// sanitize removes special characters from step names for filenames
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			clean = append(clean, r)
		case r == ' ' || r == '/' || r == '.':
			clean = append(clean, '_')
		}
	}
	if len(clean) == 0 {
		return "step"
	}
	return string(clean)
}
