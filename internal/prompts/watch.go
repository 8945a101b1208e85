package prompts

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 200 * time.Millisecond

// Watch loads dir and reloads it whenever a prompt file changes, until ctx
// is done. Reload errors are logged and keep the previous documents.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create prompts dir: %w", err)
	}
	if _, err := r.LoadDir(dir); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

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
				if !isPromptFile(event.Name) || event.Op == fsnotify.Chmod {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C

			case <-fire:
				fire = nil
				if n, err := r.LoadDir(dir); err != nil {
					log.Printf("[prompts] reload of %s failed, keeping previous prompts: %v", dir, err)
				} else {
					log.Printf("[prompts] reloaded %d documents", n)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[prompts] watcher error: %v", err)
			}
		}
	}()
	return nil
}
