// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package mods

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce coalesces bursts of file events (an archive copy fires
// many writes) into one refresh.
const defaultDebounce = 500 * time.Millisecond

// Watcher observes the managed mod directory and triggers a catalog
// refresh when its contents change.
type Watcher struct {
	service  *Service
	dir      string
	debounce time.Duration
	logger   *slog.Logger

	fsw  *fsnotify.Watcher
	wg   sync.WaitGroup
	stop chan struct{}
}

// NewWatcher creates a watcher for the managed mod directory.
func NewWatcher(service *Service, dir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		service:  service,
		dir:      dir,
		debounce: defaultDebounce,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins watching. The context bounds refresh operations, not the
// watcher lifetime; use Stop to end watching.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close() //nolint:errcheck // init error takes precedence
		return err
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("watching mod directory", "dir", w.dir)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("mod directory watch error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			if _, err := w.service.Refresh(ctx); err != nil {
				w.logger.Warn("mod refresh after directory change failed", "error", err)
			}
		}
	}
}

// Stop ends watching and waits for in-flight refreshes.
func (w *Watcher) Stop() {
	close(w.stop)
	if w.fsw != nil {
		_ = w.fsw.Close() //nolint:errcheck // shutdown path
	}
	w.wg.Wait()
}
