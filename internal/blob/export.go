package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ExportMode selects how exported content relates to the store.
type ExportMode int

const (
	// ExportCopy writes an independent copy.
	ExportCopy ExportMode = iota
	// ExportTryReference hard-links the stored file when the file system
	// allows it and copies otherwise. A linked export shares the stored
	// content; editing it in place corrupts the store.
	ExportTryReference
)

func (m ExportMode) String() string {
	if m == ExportTryReference {
		return "try-reference"
	}
	return "copy"
}

// ExportName is the file name used when exporting into a directory.
func ExportName(h Hash) string { return "downloaded_" + h.String() }

// Export writes blob h to dest and returns the path written. If dest is an
// existing directory the blob is written inside it as ExportName(h).
func (s *Store) Export(h Hash, dest string, mode ExportMode) (string, error) {
	if _, err := s.Get(h); err != nil {
		return "", err
	}
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		dest = filepath.Join(dest, ExportName(h))
	}
	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}

	if mode == ExportTryReference {
		err := linkFile(s.path(h), dest)
		if err == nil {
			log.Infow("blob exported", "hash", h.Short(), "dest", dest, "mode", mode)
			return dest, nil
		}
		log.Debugw("hard link failed, copying", "hash", h.Short(), "err", err)
	}

	if err := copyFile(s.path(h), dest); err != nil {
		return "", fmt.Errorf("export %s: %w", h.Short(), err)
	}
	log.Infow("blob exported", "hash", h.Short(), "dest", dest, "mode", ExportCopy)
	return dest, nil
}

// linkFile hard-links src under a temporary name beside dest and renames it
// into place, so an existing dest survives a failed link.
func linkFile(src, dest string) error {
	tmp := filepath.Join(filepath.Dir(dest), fmt.Sprintf(".%s.link-%d", filepath.Base(dest), os.Getpid()))
	_ = os.Remove(tmp)
	if err := os.Link(src, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
