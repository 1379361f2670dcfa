package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/stores"
)

// ActiveFile holds the name of the active workspace in the home directory.
const ActiveFile = "active"

// Options configures a Manager.
type Options struct {
	// Home is the froyo home directory. Workspaces live in Home/workspaces.
	Home string

	Logger zerolog.Logger

	// StoreObserver is installed on every workspace store.
	StoreObserver func(op string, err error)

	// OnReload is called with the new active context after its config file
	// changed on disk and was reloaded.
	OnReload func(*Context)
}

// Manager creates, lists and activates workspaces. The active Context is
// swapped atomically so readers always see a complete snapshot.
type Manager struct {
	home   string
	root   string
	logger zerolog.Logger
	opts   Options
	loader *configLoader

	active atomic.Pointer[Context]

	mu      sync.Mutex
	stores  map[string]*stores.SQLiteStore
	watcher *fsnotify.Watcher
	watched string
}

// NewManager creates a manager rooted at opts.Home.
func NewManager(opts Options) (*Manager, error) {
	if opts.Home == "" {
		return nil, fmt.Errorf("home directory is required")
	}
	root := filepath.Join(opts.Home, "workspaces")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspaces directory: %w", err)
	}
	return &Manager{
		home:   opts.Home,
		root:   root,
		logger: opts.Logger.With().Str("component", "workspace-manager").Logger(),
		opts:   opts,
		loader: newConfigLoader(),
		stores: make(map[string]*stores.SQLiteStore),
	}, nil
}

// Dir returns the directory of the named workspace.
func (m *Manager) Dir(name string) string {
	return filepath.Join(m.root, name)
}

// Create writes a new workspace directory with cfg and initializes its
// store.
func (m *Manager) Create(ctx context.Context, cfg Config) (*Context, error) {
	if err := m.loader.Validate(&cfg); err != nil {
		return nil, hosterr.NewInvalidArgumentError(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.Dir(cfg.Name)
	if _, err := os.Stat(dir); err == nil {
		return nil, hosterr.NewInvalidArgumentError(fmt.Sprintf("workspace %q already exists", cfg.Name))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, hosterr.NewIOError("failed to create workspace directory", err)
	}
	if err := m.loader.Save(dir, &cfg); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	wc, err := m.openLocked(ctx, cfg.Name)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	m.logger.Info().Str("workspace", cfg.Name).Str("engine", cfg.Engine).Msg("Workspace created")
	return wc, nil
}

// List returns the names of all workspaces, sorted.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, hosterr.NewIOError("failed to list workspaces", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := ConfigPath(filepath.Join(m.root, e.Name())); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Get loads the config of the named workspace.
func (m *Manager) Get(name string) (*Config, error) {
	if !ValidName(name) {
		return nil, hosterr.NewInvalidArgumentError(fmt.Sprintf("invalid workspace name %q", name))
	}
	dir := m.Dir(name)
	cfg, err := m.loader.Load(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, hosterr.NewNotFoundError(fmt.Sprintf("workspace %q not found", name), err)
	}
	if err != nil {
		return nil, hosterr.NewInvalidArgumentError(err.Error())
	}
	if cfg.Name != name {
		return nil, hosterr.NewInvalidArgumentError(
			fmt.Sprintf("workspace directory %q holds config for %q", name, cfg.Name))
	}
	return cfg, nil
}

// Open loads the named workspace and opens its store. Stores are cached
// and shared by every Context of the same workspace until Close.
func (m *Manager) Open(ctx context.Context, name string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked(ctx, name)
}

func (m *Manager) openLocked(ctx context.Context, name string) (*Context, error) {
	cfg, err := m.Get(name)
	if err != nil {
		return nil, err
	}

	store, ok := m.stores[name]
	if !ok {
		store, err = stores.NewSQLiteStore(stores.Config{
			Path:     filepath.Join(m.Dir(name), StateFile),
			Observer: m.opts.StoreObserver,
		})
		if err != nil {
			return nil, hosterr.NewStorageError("failed to create store", err)
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		m.stores[name] = store
	}

	return &Context{Name: name, Dir: m.Dir(name), Config: cfg, Store: store}, nil
}

// SetActive opens the named workspace, makes it the active context and
// records it in the home directory.
func (m *Manager) SetActive(ctx context.Context, name string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wc, err := m.openLocked(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(m.home, ActiveFile), []byte(name+"\n"), 0o644); err != nil {
		return nil, hosterr.NewIOError("failed to record active workspace", err)
	}
	m.active.Store(wc)
	m.rewatchLocked(name)

	m.logger.Debug().Str("workspace", name).Msg("Workspace activated")
	return wc, nil
}

// Active returns the active context, or nil when none was activated.
func (m *Manager) Active() *Context {
	return m.active.Load()
}

// ActiveName returns the recorded active workspace name.
func (m *Manager) ActiveName() (string, error) {
	data, err := os.ReadFile(filepath.Join(m.home, ActiveFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", hosterr.NewNotFoundError("no active workspace; run 'froyo workspace use <name>'", err)
	}
	if err != nil {
		return "", hosterr.NewIOError("failed to read active workspace", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Activate opens name, or the recorded active workspace when name is
// empty, as the active context without changing the recorded name.
func (m *Manager) Activate(ctx context.Context, name string) (*Context, error) {
	if name == "" {
		var err error
		if name, err = m.ActiveName(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	wc, err := m.openLocked(ctx, name)
	if err != nil {
		return nil, err
	}
	m.active.Store(wc)
	m.rewatchLocked(name)
	return wc, nil
}

// Close stops watching and closes every opened store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.watcher != nil {
		errs = append(errs, m.watcher.Close())
		m.watcher = nil
	}
	for name, store := range m.stores {
		errs = append(errs, store.Close())
		delete(m.stores, name)
	}
	return errors.Join(errs...)
}
