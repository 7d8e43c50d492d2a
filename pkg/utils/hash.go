package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

// HashFile returns the hex sha256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashParts hashes labels then files in order. A file contributes its base
// name and contents; a missing file contributes only its name, so the key is
// independent of the directory holding the files.
func HashParts(labels []string, files []string) (string, error) {
	h := sha256.New()
	for _, l := range labels {
		io.WriteString(h, l)
		h.Write([]byte{0})
	}
	for _, path := range files {
		io.WriteString(h, filepath.Base(path))
		h.Write([]byte{0})
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
