package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchTriggers watches dir for single-shot trigger files named after an
// encoded TRIGGER payload (see EncodeTrigger), decoding and forwarding each
// one on triggerCh before removing the file. This replaces the realtime
// SIGRTMIN/sigwaitinfo queued-signal mechanism other variants of this
// system use; Go doesn't expose queued realtime signals, so a watched
// directory carries the same "payload must carry queued information"
// contract via the filesystem instead.
func watchTriggers(ctx context.Context, dir string, triggerCh chan<- int64, logger *zap.Logger) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close() //nolint:errcheck // best-effort on the error path
		return err
	}

	go func() {
		defer watcher.Close() //nolint:errcheck // process is exiting anyway
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				handleTriggerFile(ev.Name, triggerCh, logger)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("trigger watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func handleTriggerFile(path string, triggerCh chan<- int64, logger *zap.Logger) {
	name := filepath.Base(path)
	payload, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		logger.Warn("ignoring malformed trigger file", zap.String("name", name), zap.Error(err))
		_ = os.Remove(path) //nolint:errcheck // best-effort cleanup
		return
	}
	triggerCh <- payload
	if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
		logger.Warn("failed to remove consumed trigger file", zap.String("name", name), zap.Error(rerr))
	}
}

// WriteTriggerFile is the Configurator-side half: create the trigger file
// a watching Orchestrator will pick up, named after the encoded payload.
func WriteTriggerFile(dir string, payload int64) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, strconv.FormatInt(payload, 10))
	return os.WriteFile(path, nil, 0644)
}
