// Package watcher watches the manifest directory and publishes debounced
// change notifications.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/pubsub"
	"github.com/zjrosen/protoreg/internal/store"
	"github.com/zjrosen/protoreg/internal/urn"
)

// Watcher monitors {dir} and its protocol subdirectories for manifest
// document changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	debounce  time.Duration
	broker    *pubsub.Broker[pubsub.ManifestChange]
	done      chan struct{}
	stopOnce  sync.Once
}

var _ pubsub.Subscriber[pubsub.ManifestChange] = (*Watcher)(nil)

// Config holds watcher configuration options.
type Config struct {
	Dir      string
	Debounce time.Duration
}

// DefaultConfig returns the default debounce for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:      dir,
		Debounce: 250 * time.Millisecond,
	}
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultConfig(cfg.Dir).Debounce
	}
	return &Watcher{
		fsWatcher: fsw,
		dir:       cfg.Dir,
		debounce:  debounce,
		broker:    pubsub.NewBroker[pubsub.ManifestChange](),
		done:      make(chan struct{}),
	}, nil
}

// Subscribe returns a channel of manifest changes that closes with ctx.
func (w *Watcher) Subscribe(ctx context.Context) <-chan pubsub.Event[pubsub.ManifestChange] {
	return w.broker.Subscribe(ctx)
}

// Start watches the root and every existing protocol directory. Protocol
// directories created later are picked up as they appear.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", w.dir, err)
	}
	for _, t := range urn.ProtocolTypes() {
		sub := filepath.Join(w.dir, string(t))
		if info, err := os.Stat(sub); err == nil && info.IsDir() {
			if err := w.fsWatcher.Add(sub); err != nil {
				return fmt.Errorf("watching directory %s: %w", sub, err)
			}
		}
	}
	log.Info(log.CatWatcher, "watching manifests", "dir", w.dir, "debounce", w.debounce)

	go w.loop()
	return nil
}

// Stop terminates the watcher and closes subscriber channels.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		w.broker.Close()
	})
	return err
}

// loop processes file system events with debouncing. Events for the same
// path within one debounce window collapse to the last one.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending = map[string]pubsub.EventType{}
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if w.maybeWatchDir(event) {
				continue
			}
			kind, relevant := classify(event)
			if !relevant {
				continue
			}
			pending[event.Name] = kind

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			w.flush(pending)
			pending = map[string]pubsub.EventType{}
			timer = nil

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err, "dir", w.dir)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) flush(pending map[string]pubsub.EventType) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		change := pubsub.ManifestChange{Path: p, ProtocolType: store.ProtocolDir(w.dir, p)}
		log.Debug(log.CatWatcher, "manifest changed", "path", p, "event", pending[p])
		w.broker.Publish(pending[p], change)
	}
}

// maybeWatchDir adds a newly created protocol directory to the watch list.
func (w *Watcher) maybeWatchDir(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) || filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return false
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() {
		return false
	}
	if _, err := urn.ParseProtocolType(filepath.Base(event.Name)); err != nil {
		return true
	}
	if err := w.fsWatcher.Add(event.Name); err != nil {
		log.ErrorErr(log.CatWatcher, "watch new directory failed", err, "dir", event.Name)
	}
	return true
}

// classify maps an fsnotify event on a manifest document to a change type.
func classify(event fsnotify.Event) (pubsub.EventType, bool) {
	if !isManifestDocument(event.Name) {
		return "", false
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return pubsub.DeletedEvent, true
	case event.Has(fsnotify.Create):
		return pubsub.CreatedEvent, true
	case event.Has(fsnotify.Write):
		return pubsub.UpdatedEvent, true
	}
	return "", false
}

func isManifestDocument(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range manifest.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Invalidator drops cached resolution results.
type Invalidator interface {
	ClearCache(ctx context.Context) error
}

// InvalidateOnChange clears c whenever s reports a manifest change, until ctx
// is done or s closes its channel.
func InvalidateOnChange(ctx context.Context, s pubsub.Subscriber[pubsub.ManifestChange], c Invalidator) {
	events := s.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.ClearCache(ctx); err != nil {
				log.ErrorErr(log.CatWatcher, "cache invalidation failed", err, "path", ev.Payload.Path)
				continue
			}
			log.Debug(log.CatWatcher, "cache invalidated", "path", ev.Payload.Path, "event", ev.Type)
		}
	}
}
