package site

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ReloadStats contains statistics about catalog reloads.
type ReloadStats struct {
	LastReloadTime time.Time
	ReloadCount    int64
	LastError      error
}

// Manager provides hot-reload capable catalog management.
// It maintains the embedded default catalog and optionally watches an
// external file for runtime updates. Reads are lock-free using atomic.Value.
type Manager struct {
	embedded     *Catalog     // Compiled-in defaults (immutable)
	current      atomic.Value // *Catalog - atomic swap for lock-free reads
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex // Protects reload operations and stats
	stats        ReloadStats
	closed       bool
}

// NewManager creates a catalog manager. If externalPath is empty, only the
// embedded catalog is used. If hotReload is true and externalPath is set,
// file changes trigger reloads.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		embedded:     Get(),
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}
	m.current.Store(m.embedded)

	if externalPath != "" {
		if err := m.reloadLocked(); err != nil {
			// Continue with embedded defaults; the site phrases rarely change
			// and a bad override file must not take the booker down.
			log.Warn().
				Err(err).
				Str("path", externalPath).
				Msg("Failed to load external site catalog, using embedded defaults")
		} else {
			log.Info().Str("path", externalPath).Msg("Loaded external site catalog")
		}

		if hotReload {
			if err := m.startWatcher(); err != nil {
				log.Warn().
					Err(err).
					Str("path", externalPath).
					Msg("Failed to start site catalog watcher, hot-reload disabled")
			} else {
				log.Info().Str("path", externalPath).Msg("Hot-reload enabled for site catalog")
			}
		}
	}

	return m, nil
}

// Current returns the active Catalog. Lock-free, safe for concurrent use.
func (m *Manager) Current() *Catalog {
	return m.current.Load().(*Catalog)
}

// Reload manually reloads the catalog from the external file.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.externalPath == "" {
		return fmt.Errorf("no external site catalog path configured")
	}
	return m.reloadLocked()
}

// Stats returns the current reload statistics.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// reloadLocked loads the external file and atomically swaps the merged
// catalog in. On failure the previous catalog remains in use.
func (m *Manager) reloadLocked() error {
	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		m.stats.LastError = err
		return fmt.Errorf("read site catalog: %w", err)
	}

	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		m.stats.LastError = err
		return fmt.Errorf("parse site catalog: %w", err)
	}

	m.current.Store(merge(m.embedded, &override))
	m.stats.ReloadCount++
	m.stats.LastReloadTime = time.Now()
	m.stats.LastError = nil
	return nil
}

func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.externalPath); err != nil {
		_ = watcher.Close()
		return err
	}
	m.watcher = watcher

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watchLoop()
	}()
	return nil
}

// watchLoop reacts to file events with a small debounce; editors commonly
// produce several write events per save.
func (m *Manager) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				m.mu.Lock()
				err := m.reloadLocked()
				m.mu.Unlock()
				if err != nil {
					log.Warn().Err(err).Msg("Site catalog hot-reload failed, keeping previous catalog")
					return
				}
				log.Info().Str("path", m.externalPath).Msg("Site catalog reloaded")
			})
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Site catalog watcher error")
		case <-m.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// Close stops the watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing site catalog watcher")
		}
	}
	m.wg.Wait()
	return nil
}
