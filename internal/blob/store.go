// Package blob is a content-addressed file store with a small fetch
// protocol: a provider serves blobs by BLAKE3 hash, a downloader fetches
// and verifies them, and export writes a stored blob back to a path.
package blob

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"lukechampine.com/blake3"

	"github.com/petervdpas/radyo/internal/storage"
)

var log = logging.Logger("radyo/blob")

// Format tags how a blob is interpreted. Only single raw files are stored.
type Format string

const FormatRaw Format = "raw"

const blobMode = 0o644

var (
	ErrNotFound     = errors.New("blob not found")
	ErrHashMismatch = errors.New("blob hash mismatch")
	ErrBadHash      = errors.New("invalid blob hash")
)

// Hash is a BLAKE3-256 digest.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first eight hex digits, for logs and file names.
func (h Hash) Short() string { return h.String()[:8] }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	v, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// ParseHash decodes a 64-character hex digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("%w: %q", ErrBadHash, s)
	}
	copy(h[:], b)
	return h, nil
}

// Sum hashes data.
func Sum(data []byte) Hash { return Hash(blake3.Sum256(data)) }

// Entry describes a stored blob.
type Entry struct {
	Hash   Hash   `json:"hash"`
	Format Format `json:"format"`
	Size   int64  `json:"size"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source,omitempty"`
}

// Store keeps blob contents under <dir>/data and indexes them in SQLite.
type Store struct {
	dir     string
	dataDir string
	db      *storage.DB
}

func Open(dir string) (*Store, error) {
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	db, err := storage.Open(dir)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, dataDir: dataDir, db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(h Hash) string { return filepath.Join(s.dataDir, h.String()) }

// AddPath imports the file at path and returns its hash and format.
func (s *Store) AddPath(path string) (Entry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Entry{}, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Entry{}, err
	}
	if fi.IsDir() {
		return Entry{}, fmt.Errorf("%s is a directory", path)
	}

	e, err := s.ingest(f, filepath.Base(abs), abs, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("add %s: %w", path, err)
	}
	log.Infow("blob added", "hash", e.Hash, "size", e.Size, "name", e.Name)
	return e, nil
}

// ingest copies r into the store while hashing it. When want is set the
// content must hash to it or nothing is kept.
func (s *Store) ingest(r io.Reader, name, source string, want *Hash) (Entry, error) {
	tmp, err := os.CreateTemp(s.dataDir, ".ingest-*")
	if err != nil {
		return Entry{}, err
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	hasher := blake3.New(32, nil)
	n, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Entry{}, err
	}

	var h Hash
	copy(h[:], hasher.Sum(nil))
	if want != nil && h != *want {
		return Entry{}, fmt.Errorf("%w: want %s, got %s", ErrHashMismatch, want, h)
	}

	// Linked exports share this inode, so it carries the export mode.
	if err := os.Chmod(tmp.Name(), blobMode); err != nil {
		return Entry{}, err
	}
	if err := os.Rename(tmp.Name(), s.path(h)); err != nil {
		return Entry{}, err
	}

	e := Entry{Hash: h, Format: FormatRaw, Size: n, Name: name, Source: source}
	if err := s.db.PutBlob(storage.BlobRow{
		Hash:   h.String(),
		Format: string(e.Format),
		Size:   e.Size,
		Name:   e.Name,
		Source: e.Source,
	}); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Get returns the index entry for h if its content is present.
func (s *Store) Get(h Hash) (Entry, error) {
	row, err := s.db.GetBlob(h.String())
	if err != nil {
		if errors.Is(err, storage.ErrNoBlob) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, h)
		}
		return Entry{}, err
	}
	if _, err := os.Stat(s.path(h)); err != nil {
		return Entry{}, fmt.Errorf("%w: %s (content missing)", ErrNotFound, h)
	}
	return entryFromRow(h, row), nil
}

// Has reports whether the blob is stored.
func (s *Store) Has(h Hash) bool {
	_, err := s.Get(h)
	return err == nil
}

// OpenBlob opens the stored content of h for reading.
func (s *Store) OpenBlob(h Hash) (*os.File, Entry, error) {
	e, err := s.Get(h)
	if err != nil {
		return nil, Entry{}, err
	}
	f, err := os.Open(s.path(h))
	if err != nil {
		return nil, Entry{}, err
	}
	return f, e, nil
}

// List returns every indexed blob whose content is present. Rows whose
// content has gone missing are removed from the index.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.ListBlobs()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		h, err := ParseHash(r.Hash)
		if err != nil {
			log.Warnw("skipping bad index row", "hash", r.Hash, "err", err)
			continue
		}
		if _, err := os.Stat(s.path(h)); err != nil {
			if err := s.db.DeleteBlob(r.Hash); err != nil {
				log.Warnw("drop stale index row", "hash", r.Hash, "err", err)
			} else {
				log.Infow("dropped index row with missing content", "hash", h.Short())
			}
			continue
		}
		out = append(out, entryFromRow(h, r))
	}
	return out, nil
}

func entryFromRow(h Hash, r storage.BlobRow) Entry {
	return Entry{
		Hash:   h,
		Format: Format(r.Format),
		Size:   r.Size,
		Name:   r.Name,
		Source: r.Source,
	}
}
