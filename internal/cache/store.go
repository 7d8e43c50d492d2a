package cache

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"workflowci/internal/logger"
)

const archiveExt = ".tar.xz"

var (
	ErrInvalidKey  = errors.New("invalid cache key")
	ErrUnsafePath  = errors.New("archive entry escapes restore root")
	validKeyFormat = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// Store keeps dependency caches as xz-compressed tarballs, one per key.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) archivePath(key string) (string, error) {
	if !validKeyFormat.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.Dir, key+archiveExt), nil
}

// Has reports whether an archive exists for key.
func (s *Store) Has(key string) bool {
	p, err := s.archivePath(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Save archives paths (relative to root) under key. Missing paths are skipped.
// The archive is written to a temporary file and renamed into place.
func (s *Store) Save(key, root string, paths []string) (err error) {
	dst, err := s.archivePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, key+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	xw, err := xz.NewWriter(tmp)
	if err != nil {
		return fmt.Errorf("xz writer: %w", err)
	}
	tw := tar.NewWriter(xw)
	for _, rel := range paths {
		if err := addTree(tw, root, filepath.Clean(rel)); err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := xw.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	logger.LogDebug("cache saved", map[string]interface{}{"key": key, "archive": dst})
	return nil
}

func addTree(tw *tar.Writer, root, rel string) error {
	start := filepath.Join(root, rel)
	if _, err := os.Lstat(start); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		name, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		link := ""
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(name)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// Restore extracts the archive for key under root. It reports false when no
// archive exists.
func (s *Store) Restore(key, root string) (bool, error) {
	src, err := s.archivePath(key)
	if err != nil {
		return false, err
	}
	f, err := os.Open(src)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := os.MkdirAll(root, 0o755); err != nil {
		return false, err
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false, err
	}

	xr, err := xz.NewReader(f)
	if err != nil {
		return false, fmt.Errorf("xz reader: %w", err)
	}
	tr := tar.NewReader(xr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, err
		}
		if err := extract(tr, hdr, realRoot); err != nil {
			return false, err
		}
	}
	logger.LogDebug("cache restored", map[string]interface{}{"key": key, "root": root})
	return true, nil
}

func extract(tr *tar.Reader, hdr *tar.Header, root string) error {
	target := filepath.Join(root, filepath.FromSlash(hdr.Name))
	if !within(root, target) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
	}
	if target == root {
		return nil
	}
	// symlinks restored earlier, or already in root, must not lead outside
	if err := resolvesWithin(root, filepath.Dir(target)); err != nil {
		return fmt.Errorf("%w: %s", err, hdr.Name)
	}
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	mode := hdr.FileInfo().Mode()
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, mode.Perm()|0o700)
	case tar.TypeSymlink:
		link := filepath.FromSlash(hdr.Linkname)
		if filepath.IsAbs(link) || !within(root, filepath.Join(filepath.Dir(target), link)) {
			return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		return os.Chtimes(target, hdr.ModTime, hdr.ModTime)
	default:
		return nil
	}
}

// within reports whether path is root or lexically below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolvesWithin resolves the deepest existing ancestor of dir and checks it
// stays under root.
func resolvesWithin(root, dir string) error {
	p := dir
	for {
		if _, err := os.Lstat(p); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil || !within(root, real) {
		return ErrUnsafePath
	}
	return nil
}

// Prune removes archives not modified within maxAge and returns how many it removed.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return removed, err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.Dir, e.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
