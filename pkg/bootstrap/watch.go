package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/platinummonkey/pinaka/pkg/rbac"
)

// reloadDelay coalesces the burst of events editors emit on save
const reloadDelay = 250 * time.Millisecond

// WatchMatrixFile reloads path whenever it changes and force-reseeds the
// store with it. Invalid files are logged and ignored. The watch stops
// when ctx is done.
func (b *Bootstrapper) WatchMatrixFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory so atomic rename-on-save is seen
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(b.logger, "matrix file watcher")

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDelay)
				} else {
					timer.Reset(reloadDelay)
				}
				fire = timer.C

			case <-fire:
				fire = nil
				b.reloadMatrix(ctx, path)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				b.logger.WithError(err).Warn("matrix file watcher error")
			}
		}
	}()

	b.logger.WithField("path", path).Info("watching permission matrix file")
	return nil
}

func (b *Bootstrapper) reloadMatrix(ctx context.Context, path string) {
	logger := b.logger.WithField("path", path)

	m, err := rbac.LoadMatrixFile(path)
	if err != nil {
		logger.WithError(err).Warn("ignoring invalid permission matrix file")
		return
	}

	b.SetMatrix(m)
	if err := b.Initialize(ctx, true); err != nil {
		logger.WithError(err).Error("failed to reseed permission matrix")
		return
	}
	logger.Info("permission matrix reloaded")
}
