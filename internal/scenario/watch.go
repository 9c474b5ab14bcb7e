package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of events editors emit on save.
const watchDebounce = 200 * time.Millisecond

// Watch calls onChange with the path of every scenario file under the
// watched paths that is created or written. Paths may be files or
// directories. It blocks until ctx is cancelled.
func Watch(ctx context.Context, paths []string, logger *slog.Logger, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	files := make(map[string]bool)
	dirs := make(map[string]bool)

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}

		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}

		// Editors replace files on save, so watch the directory and
		// filter by name.
		dir := abs
		if info.IsDir() {
			dirs[abs] = true
		} else {
			dir = filepath.Dir(abs)
			files[abs] = true
		}

		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	pending := make(map[string]bool)

	timer := time.NewTimer(watchDebounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			if !isScenarioFile(event.Name) {
				continue
			}

			if !files[event.Name] && !dirs[filepath.Dir(event.Name)] {
				continue
			}

			pending[event.Name] = true

			timer.Reset(watchDebounce)

		case <-timer.C:
			for path := range pending {
				onChange(path)
			}

			clear(pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			logger.Warn("scenario watcher", slog.String("error", err.Error()))
		}
	}
}

func isScenarioFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}

	ext := filepath.Ext(base)

	return ext == ".yaml" || ext == ".yml"
}
