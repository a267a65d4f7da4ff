// Package ringtone loads ringtone payloads from a directory of MP3 files,
// substituting one fixed fallback asset when the requested one is missing
// or unreadable.
package ringtone

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("radyo/ringtone")

// Ext is the file extension of ringtone assets.
const Ext = ".mp3"

var (
	ErrInvalidName = errors.New("invalid ringtone name")
	ErrNotFound    = errors.New("ringtone not found")
)

// Payload is an immutable, fully loaded ringtone. Each call loads its own.
type Payload struct {
	Name  string // requested name
	Asset string // name of the asset actually loaded
	Data  []byte
	Info  *Info
}

// Fallback reports whether the requested asset was replaced by the fallback.
func (p *Payload) Fallback() bool { return p.Name != p.Asset }

// Library resolves ringtone names against a file system.
type Library struct {
	fsys     fs.FS
	fallback string
}

// NewLibrary returns a library over fsys. fallback is the name of the asset
// used whenever a requested ringtone cannot be loaded.
func NewLibrary(fsys fs.FS, fallback string) *Library {
	return &Library{fsys: fsys, fallback: fallback}
}

// Open returns a library rooted at dir.
func Open(dir, fallback string) *Library {
	return NewLibrary(os.DirFS(dir), fallback)
}

// Load reads the named ringtone. If it is missing, unreadable or not an MP3,
// the fallback asset is loaded instead and the degradation is logged.
// Load only fails when the fallback cannot be loaded either.
func (l *Library) Load(name string) (*Payload, error) {
	p, err := l.read(name)
	if err == nil {
		return p, nil
	}
	if name == l.fallback {
		return nil, fmt.Errorf("load fallback ringtone %q: %w", l.fallback, err)
	}

	log.Warnw("ringtone unavailable, using fallback", "requested", name, "fallback", l.fallback, "err", err)

	fb, ferr := l.read(l.fallback)
	if ferr != nil {
		return nil, fmt.Errorf("load ringtone %q: %v; fallback %q: %w", name, err, l.fallback, ferr)
	}
	fb.Name = name
	return fb, nil
}

func (l *Library) read(name string) (*Payload, error) {
	file, err := fileName(name)
	if err != nil {
		return nil, err
	}

	data, err := fs.ReadFile(l.fsys, file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
		}
		return nil, err
	}

	info, err := Probe(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	asset := strings.TrimSuffix(file, Ext)
	return &Payload{Name: asset, Asset: asset, Data: data, Info: info}, nil
}

// List returns the names of all ringtones in the library, sorted.
func (l *Library) List() ([]string, error) {
	entries, err := fs.ReadDir(l.fsys, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), Ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names, nil
}

// fileName maps a ringtone name to its file, rejecting anything that would
// leave the library root.
func fileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !strings.EqualFold(path.Ext(name), Ext) {
		name += Ext
	}
	if !fs.ValidPath(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}
