package template

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/snapshot"
)

// DirSource serves templates from a directory on disk and caches decoded
// snapshots until the backing file changes.
type DirSource struct {
	dir     string
	catalog *Catalog
	watcher *fsnotify.Watcher
	logger  log.Log

	mu    sync.RWMutex
	cache map[string]snapshot.Snapshot

	done chan struct{}
	wg   sync.WaitGroup
}

func NewDirSource(dir string, logger log.Log) (*DirSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("template dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template dir %s is not a directory", abs)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err = watcher.Add(abs); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	d := &DirSource{
		dir:     abs,
		catalog: NewCatalog(os.DirFS(abs)),
		watcher: watcher,
		logger:  logger.With(log.String("component", "template.dir"), log.String("dir", abs)),
		cache:   make(map[string]snapshot.Snapshot),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.watchLoop()
	return d, nil
}

func (d *DirSource) Load(ctx context.Context, key string) (snapshot.Snapshot, error) {
	d.mu.RLock()
	snap, ok := d.cache[key]
	d.mu.RUnlock()
	if ok {
		return snap, nil
	}

	snap, err := d.catalog.Load(ctx, key)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.cache[key] = snap
	d.mu.Unlock()
	return snap, nil
}

func (d *DirSource) Keys() ([]string, error) {
	return d.catalog.Keys()
}

// Cached reports whether key is currently cached.
func (d *DirSource) Cached(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.cache[key]
	return ok
}

func (d *DirSource) Close() error {
	select {
	case <-d.done:
		return nil
	default:
		close(d.done)
	}
	err := d.watcher.Close()
	d.wg.Wait()
	return err
}

func (d *DirSource) invalidate(name string) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if !knownExtension(ext) {
		return
	}
	key := strings.TrimSuffix(base, ext)
	d.mu.Lock()
	_, cached := d.cache[key]
	delete(d.cache, key)
	d.mu.Unlock()
	if cached {
		d.logger.Info("template changed, cache dropped", log.String("template", key))
	}
}

func (d *DirSource) watchLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				d.invalidate(event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", log.Error(err))
		}
	}
}
