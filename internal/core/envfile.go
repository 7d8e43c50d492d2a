package core

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Steps export variables and PATH entries for later steps by appending to
// the files named by GITHUB_ENV and GITHUB_PATH.
const (
	envFileVar  = "GITHUB_ENV"
	pathFileVar = "GITHUB_PATH"
)

// ParseEnvFile reads KEY=VALUE lines and KEY<<DELIM heredocs.
func ParseEnvFile(data []byte) (map[string]string, error) {
	vars := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		if i := strings.Index(text, "<<"); i > 0 && (!strings.Contains(text, "=") || strings.Index(text, "=") > i) {
			key, delim := text[:i], text[i+2:]
			if delim == "" {
				return nil, fmt.Errorf("line %d: empty heredoc delimiter", line)
			}
			var value []string
			closed := false
			for sc.Scan() {
				line++
				v := strings.TrimRight(sc.Text(), "\r")
				if v == delim {
					closed = true
					break
				}
				value = append(value, v)
			}
			if !closed {
				return nil, fmt.Errorf("line %d: heredoc %q for %s is not terminated", line, delim, key)
			}
			vars[key] = strings.Join(value, "\n")
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", line)
		}
		vars[key] = value
	}
	return vars, sc.Err()
}

// ParsePathFile returns the non-empty lines of a GITHUB_PATH file.
func ParsePathFile(data []byte) []string {
	var dirs []string
	for _, l := range strings.Split(string(data), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			dirs = append(dirs, l)
		}
	}
	return dirs
}

// environ turns a map into a sorted KEY=VALUE list.
func environ(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// processEnv returns the runner's own environment as a map.
func processEnv() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars
}

// merge copies src over dst.
func merge(dst map[string]string, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}
