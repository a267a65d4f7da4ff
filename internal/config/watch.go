package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("radyo/config")

// Watcher keeps the latest valid config from a file and reloads it on change.
// An edit that fails to load or validate is logged and ignored.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	onChange []func(Config)

	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Watch loads path and starts watching it.
func Watch(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Watch the directory: editors and WriteJSONFile replace the file by rename.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.current.Store(&cfg)
	go w.loop()
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() Config {
	return *w.current.Load()
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	w.onChange = append(w.onChange, fn)
	w.mu.Unlock()
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	name := filepath.Clean(w.path)
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnw("config watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Warnw("config reload failed, keeping previous", "file", w.path, "err", err)
		return
	}
	w.current.Store(&cfg)
	log.Infow("config reloaded", "file", w.path, "ringtone", cfg.Call.Ringtone)

	w.mu.Lock()
	fns := make([]func(Config), len(w.onChange))
	copy(fns, w.onChange)
	w.mu.Unlock()
	for _, fn := range fns {
		fn(cfg)
	}
}
