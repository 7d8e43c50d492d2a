package runnerenv

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"howett.net/plist"

	"workflowci/internal/logger"
)

// SystemVersionPlist is where macOS records its product version.
const SystemVersionPlist = "/System/Library/CoreServices/SystemVersion.plist"

// SystemVersion is the subset of SystemVersion.plist we read.
type SystemVersion struct {
	ProductName    string `plist:"ProductName"`
	ProductVersion string `plist:"ProductVersion"`
	BuildVersion   string `plist:"ProductBuildVersion"`
}

// Major returns the major component of ProductVersion ("14" for "14.4.1").
func (v SystemVersion) Major() string {
	major, _, _ := strings.Cut(v.ProductVersion, ".")
	return major
}

// ReadSystemVersion decodes a SystemVersion.plist file.
func ReadSystemVersion(path string) (SystemVersion, error) {
	var v SystemVersion
	f, err := os.Open(path)
	if err != nil {
		return v, err
	}
	defer f.Close()
	if err := plist.NewDecoder(f).Decode(&v); err != nil {
		return v, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}

// Detector derives runner labels from the host.
type Detector struct {
	GOOS        string
	VersionFile string
}

func NewDetector() *Detector {
	return &Detector{GOOS: runtime.GOOS, VersionFile: SystemVersionPlist}
}

// Labels returns configured labels followed by detected ones, without
// duplicates. Every runner carries "self-hosted"; a macOS host also offers
// "macos-latest" and "macos-<major>".
func (d *Detector) Labels(configured []string) []string {
	labels := append([]string{}, configured...)
	labels = append(labels, "self-hosted", d.GOOS)
	switch d.GOOS {
	case "darwin":
		labels = append(labels, "macos-latest", "macOS")
		if v, err := ReadSystemVersion(d.VersionFile); err == nil {
			if major := v.Major(); major != "" {
				labels = append(labels, "macos-"+major)
			}
		} else {
			logger.LogWarn("cannot read macOS version", map[string]interface{}{"error": err.Error()})
		}
	case "linux":
		labels = append(labels, "ubuntu-latest", "Linux")
	case "windows":
		labels = append(labels, "windows-latest", "Windows")
	}
	return dedupe(labels)
}

func dedupe(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := labels[:0]
	for _, l := range labels {
		key := strings.ToLower(l)
		if l == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}
