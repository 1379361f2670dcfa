package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadDelay debounces bursts of config file events.
var ReloadDelay = 200 * time.Millisecond

// Watch reloads the active workspace's config whenever its config file
// changes and swaps in a new Context sharing the same store. An invalid
// config is logged and the previous context stays active. Watch follows
// SetActive and Activate to the newly active workspace, and ends when ctx
// is cancelled or the manager is closed.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	m.mu.Lock()
	if m.watcher != nil {
		m.mu.Unlock()
		_ = watcher.Close()
		return fmt.Errorf("already watching")
	}
	m.watcher = watcher
	m.watched = ""
	if wc := m.active.Load(); wc != nil {
		m.rewatchLocked(wc.Name)
	}
	m.mu.Unlock()

	go m.processEvents(ctx, watcher)
	return nil
}

// rewatchLocked points the watcher at the named workspace directory.
func (m *Manager) rewatchLocked(name string) {
	if m.watcher == nil || m.watched == name {
		return
	}
	if m.watched != "" {
		_ = m.watcher.Remove(m.Dir(m.watched))
	}
	if err := m.watcher.Add(m.Dir(name)); err != nil {
		m.logger.Warn().Err(err).Str("workspace", name).Msg("Failed to watch workspace")
		m.watched = ""
		return
	}
	m.watched = name
}

func (m *Manager) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if m.watcher == watcher {
				m.watcher = nil
				m.watched = ""
			}
			m.mu.Unlock()
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			base := filepath.Base(event.Name)
			if base != YAMLConfigFile && base != CUEConfigFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(filepath.Dir(event.Name))
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(ReloadDelay, func() { m.reload(name) })

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// reload swaps the active context for one with the config now on disk.
func (m *Manager) reload(name string) {
	m.mu.Lock()
	current := m.active.Load()
	if current == nil || current.Name != name {
		m.mu.Unlock()
		return
	}

	cfg, err := m.Get(name)
	if err != nil {
		m.mu.Unlock()
		m.logger.Error().Err(err).Str("workspace", name).Msg("Workspace config reload failed; keeping previous config")
		return
	}
	next := current.withConfig(cfg)
	m.active.Store(next)
	m.mu.Unlock()

	m.logger.Info().Str("workspace", name).Str("engine", cfg.Engine).Msg("Workspace config reloaded")
	if m.opts.OnReload != nil {
		m.opts.OnReload(next)
	}
}
