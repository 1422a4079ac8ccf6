package oracleengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce is how long to wait after a file event before reloading,
// so editors that write in multiple steps trigger a single reload.
const reloadDebounce = 200 * time.Millisecond

// LoadThresholdsFile reads a thresholds YAML file.
func LoadThresholdsFile(path string) (Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("read rules file: %w", err)
	}

	th := DefaultThresholds()
	if err := yaml.Unmarshal(data, &th); err != nil {
		return Thresholds{}, fmt.Errorf("parse rules file: %w", err)
	}
	if err := th.Validate(); err != nil {
		return Thresholds{}, fmt.Errorf("rules file %s: %w", path, err)
	}
	return th, nil
}

// watchRules loads the rules file and watches it for changes, swapping the
// active thresholds atomically on each valid reload. Invalid edits are
// logged and the previous thresholds stay in effect.
func (c *Component) watchRules(ctx context.Context) error {
	th, err := LoadThresholdsFile(c.config.RulesPath)
	if err != nil {
		return err
	}
	c.thresholds.Store(&th)
	c.logger.Info("Loaded rules file", "path", c.config.RulesPath, "thresholds", th)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory: editors replace files by rename, which drops
	// a watch on the file itself.
	if err := watcher.Add(filepath.Dir(c.config.RulesPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch rules dir: %w", err)
	}

	go c.reloadLoop(ctx, watcher)
	return nil
}

func (c *Component) reloadLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	target := filepath.Clean(c.config.RulesPath)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("Rules watcher error", "error", err)

		case <-timerC:
			th, err := LoadThresholdsFile(c.config.RulesPath)
			if err != nil {
				c.logger.Warn("Rules reload failed, keeping previous thresholds",
					"path", c.config.RulesPath,
					"error", err)
				continue
			}
			c.thresholds.Store(&th)
			c.logger.Info("Rules reloaded", "path", c.config.RulesPath, "thresholds", th)
		}
	}
}
