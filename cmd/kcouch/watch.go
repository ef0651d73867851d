package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const settleDelay = 300 * time.Millisecond

var watchedExtensions = map[string]bool{".yaml": true, ".yml": true, ".toml": true, ".json": true, ".js": true}

// watchFragments runs migrate after fragment or view source files change.
// Bursts of events are collapsed into one run. Failed runs are logged and
// watching continues until ctx is done.
func watchFragments(ctx context.Context, paths []string, migrate func() error) error {
	dirs, err := fragmentDirs(paths)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logger.Printf("watching %s", dir)
	}

	timer := time.NewTimer(settleDelay)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watchedExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(settleDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("watch: %s", err)
		case <-timer.C:
			if err := migrate(); err != nil {
				logger.Printf("migrate: %s", err)
			}
		}
	}
}
