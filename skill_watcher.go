package plugfx

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/zoobzio/clockz"
)

// DefaultSkillDebounce is the default debounce interval for skill file
// events.
const DefaultSkillDebounce = 100 * time.Millisecond

// SkillWatcherConfig configures a SkillWatcher.
type SkillWatcherConfig struct {
	// Dir is the skills directory to watch recursively.
	Dir string

	// Debounce is the interval to wait before reloading after a burst
	// of events for the same file. Default is DefaultSkillDebounce.
	Debounce time.Duration

	// ExcludePatterns are glob patterns for paths to ignore.
	ExcludePatterns []string
}

// SkillWatcher monitors a skills directory and keeps the dispatcher's
// skill registry in sync with the files on disk. Every reload emits a
// HookSkillChanged event through the dispatcher, so plugins can react
// to capability changes.
//
// Watching is best-effort infrastructure around the registry; dispatch
// behavior never depends on it.
type SkillWatcher struct {
	d        *Dispatcher
	dir      string
	debounce time.Duration
	excludes []glob.Glob
	fw       *fsnotify.Watcher
	clock    clockz.Clock
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WatchSkills loads the skills already present under cfg.Dir and starts
// watching for changes.
func WatchSkills(d *Dispatcher, cfg SkillWatcherConfig) (*SkillWatcher, error) {
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("stat skills dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("skills path %s is not a directory", cfg.Dir)
	}

	excludes := make([]glob.Glob, 0, len(cfg.ExcludePatterns))
	for _, pattern := range cfg.ExcludePatterns {
		matcher, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
		}
		excludes = append(excludes, matcher)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &SkillWatcher{
		d:        d,
		dir:      cfg.Dir,
		debounce: cfg.Debounce,
		excludes: excludes,
		fw:       fw,
		clock:    d.clock,
		logger:   d.logger,
		stop:     make(chan struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = DefaultSkillDebounce
	}

	if _, err := d.Skills().LoadSkillDir(cfg.Dir); err != nil {
		fw.Close()
		return nil, err
	}
	if err := w.addWatches(cfg.Dir); err != nil {
		fw.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// addWatches registers dir and every subdirectory with fsnotify.
// fsnotify watches are not recursive on their own.
func (w *SkillWatcher) addWatches(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() || w.excluded(path) {
			return nil
		}
		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *SkillWatcher) excluded(path string) bool {
	slashed := filepath.ToSlash(path)
	for _, matcher := range w.excludes {
		if matcher.Match(slashed) {
			return true
		}
	}
	return false
}

func (w *SkillWatcher) loop() {
	defer w.wg.Done()

	var timer clockz.Timer
	var timerC <-chan time.Time
	pending := make(map[string]struct{})

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if w.excluded(ev.Name) {
				continue
			}

			// New subdirectories need their own watch before their
			// SKILL.md shows up.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.fw.Add(ev.Name); err != nil {
						w.logger.Warn("failed to watch new skill dir", "path", ev.Name, "error", err)
					}
					continue
				}
			}

			if filepath.Base(ev.Name) != SkillFileName {
				continue
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
				!ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Remove) {
				continue
			}

			pending[ev.Name] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = w.clock.NewTimer(w.debounce)
			timerC = timer.C()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("skill watcher error", "error", err)

		case <-timerC:
			for path := range pending {
				w.reload(path)
			}
			pending = make(map[string]struct{})
			timer = nil
			timerC = nil

		case <-w.stop:
			return
		}
	}
}

// reload re-reads one SKILL.md and updates the registry. The owning
// plugin id is the skill directory's name. Files that vanished are
// unregistered instead.
func (w *SkillWatcher) reload(path string) {
	pluginID := filepath.Base(filepath.Dir(path))

	if _, err := os.Stat(path); err != nil {
		w.d.Skills().remove(pluginID)
		w.d.Emit(HookSkillChanged, Event{
			"pluginId": pluginID,
			"path":     path,
			"removed":  true,
		})
		return
	}

	skill, err := ReadSkillFile(path)
	if err != nil {
		w.logger.Warn("skipping invalid skill file", "path", path, "error", err)
		return
	}
	if err := w.d.Skills().Register(pluginID, skill); err != nil {
		w.logger.Warn("failed to register reloaded skill", "path", path, "error", err)
		return
	}

	w.d.Emit(HookSkillChanged, Event{
		"pluginId": pluginID,
		"name":     skill.Name,
		"path":     path,
	})
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *SkillWatcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		err = w.fw.Close()
		w.wg.Wait()
	})
	return err
}
