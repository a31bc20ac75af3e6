package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	configFileName     = "config.ini"
	fallbackConfigDir  = ".yobboy_file_server"
	defaultPassword    = "ats123"
	defaultHost        = "0.0.0.0"
	defaultPort        = 5000
	defaultLogLevel    = "info"
	configReloadDelay  = 200 * time.Millisecond
	configWriteTestTmp = ".config_write_test"
)

// Keys inside the INI file. Every setting lives in the [settings] section.
const (
	keyRootDir    = "settings.root_dir"
	keyPassword   = "settings.password"
	keyHost       = "settings.host"
	keyPort       = "settings.port"
	keyLogDir     = "settings.log_dir"
	keyLogLevel   = "settings.log_level"
	keyDrawioDir  = "settings.drawio_dir"
	keySecret     = "settings.secret"
	keySessionTTL = "settings.session_ttl"
)

// Config is one immutable snapshot of the server settings. It is never
// modified after construction; changes produce a new value.
type Config struct {
	RootDir    string
	Password   string
	Host       string
	Port       int
	LogDir     string
	LogLevel   string
	DrawioDir  string
	Secret     string
	SessionTTL time.Duration
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// rootValid reports whether RootDir names an existing directory.
func (c *Config) rootValid() bool {
	if c.RootDir == "" || !filepath.IsAbs(c.RootDir) {
		return false
	}
	info, err := os.Stat(c.RootDir)
	return err == nil && info.IsDir()
}

// withRoot returns a copy of c serving a different root.
func (c *Config) withRoot(root string) *Config {
	next := *c
	next.RootDir = root
	return &next
}

// configStore holds the current Config behind an atomic pointer so request
// handlers always read a single consistent snapshot.
type configStore struct {
	current atomic.Pointer[Config]

	// mu serializes reads and writes of the backing file.
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

func newConfigStore(v *viper.Viper, path string) *configStore {
	if v == nil {
		v = viper.New()
	}
	setConfigDefaults(v)
	return &configStore{v: v, path: path}
}

// newStaticConfigStore wraps a fixed Config that is never persisted.
func newStaticConfigStore(cfg *Config) *configStore {
	s := &configStore{v: viper.New()}
	s.current.Store(cfg)
	return s
}

func (s *configStore) Load() *Config {
	return s.current.Load()
}

func (s *configStore) swap(cfg *Config) {
	s.current.Store(cfg)
}

// Path returns the backing file, or "" for an in-memory store.
func (s *configStore) Path() string {
	return s.path
}

func setConfigDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = string(filepath.Separator)
	}
	v.SetDefault(keyRootDir, home)
	v.SetDefault(keyPassword, defaultPassword)
	v.SetDefault(keyHost, defaultHost)
	v.SetDefault(keyPort, defaultPort)
	v.SetDefault(keyLogLevel, defaultLogLevel)
	v.SetDefault(keySessionTTL, defaultSessionTTL.String())

	for key, env := range map[string]string{
		keyRootDir:    "FILESERVER_ROOT_DIR",
		keyPassword:   "FILESERVER_PASSWORD",
		keyHost:       "FILESERVER_HOST",
		keyPort:       "FILESERVER_PORT",
		keyLogDir:     "FILESERVER_LOG_DIR",
		keyLogLevel:   "FILESERVER_LOG_LEVEL",
		keyDrawioDir:  "FILESERVER_DRAWIO_DIR",
		keySecret:     "FILESERVER_SECRET",
		keySessionTTL: "FILESERVER_SESSION_TTL",
	} {
		_ = v.BindEnv(key, env)
	}
}

// load reads the backing file, creating it with defaults when it does not
// exist yet, and installs the resulting snapshot.
func (s *configStore) load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil, errors.New("no config file path")
	}
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		cfg, err := s.snapshot()
		if err != nil {
			return nil, err
		}
		logger().Warn("config file not found, writing defaults",
			zap.String("path", s.path))
		if err := writeConfigFile(s.path, cfg); err != nil {
			return nil, err
		}
	}

	s.v.SetConfigFile(s.path)
	s.v.SetConfigType("ini")
	if err := s.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", s.path, err)
	}
	cfg, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if cfg.Password == defaultPassword {
		logger().Warn("using the default password, change it in the config file")
	}
	if !cfg.rootValid() {
		logger().Warn("configured root directory does not exist or is not a directory",
			zap.String("root_dir", cfg.RootDir))
	}
	s.swap(cfg)
	return cfg, nil
}

// snapshot builds a Config from the merged flag, env, file and default
// layers.
func (s *configStore) snapshot() (*Config, error) {
	ttl, err := time.ParseDuration(strings.TrimSpace(s.v.GetString(keySessionTTL)))
	if err != nil || ttl <= 0 {
		return nil, fmt.Errorf("%w: session_ttl %q", ErrInvalidInput, s.v.GetString(keySessionTTL))
	}
	port := s.v.GetInt(keyPort)
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d", ErrInvalidInput, port)
	}
	root := strings.TrimSpace(s.v.GetString(keyRootDir))
	if root != "" {
		if abs, err := filepath.Abs(expandHome(root)); err == nil {
			root = abs
		}
	}
	return &Config{
		RootDir:    root,
		Password:   s.v.GetString(keyPassword),
		Host:       strings.TrimSpace(s.v.GetString(keyHost)),
		Port:       port,
		LogDir:     expandHome(strings.TrimSpace(s.v.GetString(keyLogDir))),
		LogLevel:   strings.TrimSpace(s.v.GetString(keyLogLevel)),
		DrawioDir:  expandHome(strings.TrimSpace(s.v.GetString(keyDrawioDir))),
		Secret:     s.v.GetString(keySecret),
		SessionTTL: ttl,
	}, nil
}

// setRoot validates dir, persists it and installs a snapshot serving it.
func (s *configStore) setRoot(dir string) (*Config, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: empty root directory", ErrInvalidInput)
	}
	abs, err := filepath.Abs(expandHome(dir))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, &PathError{Op: "set_root", Path: dir, Err: ErrNotFound}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.Load().withRoot(abs)
	if s.path != "" {
		if err := writeConfigFile(s.path, next); err != nil {
			return nil, err
		}
	}
	// Only a persisted root is pinned; it then outranks flags and env on
	// later reloads.
	s.v.Set(keyRootDir, abs)
	s.swap(next)
	return next, nil
}

// writeConfigFile persists the settings the desktop shell shares with the
// server, plus any non-default extras.
func writeConfigFile(path string, cfg *Config) error {
	out := viper.New()
	out.SetConfigType("ini")
	out.Set(keyRootDir, cfg.RootDir)
	out.Set(keyPassword, cfg.Password)
	if cfg.Host != "" && cfg.Host != defaultHost {
		out.Set(keyHost, cfg.Host)
	}
	if cfg.Port != 0 && cfg.Port != defaultPort {
		out.Set(keyPort, cfg.Port)
	}
	if cfg.LogDir != "" {
		out.Set(keyLogDir, cfg.LogDir)
	}
	if cfg.LogLevel != "" && cfg.LogLevel != defaultLogLevel {
		out.Set(keyLogLevel, cfg.LogLevel)
	}
	if cfg.DrawioDir != "" {
		out.Set(keyDrawioDir, cfg.DrawioDir)
	}
	if cfg.Secret != "" {
		out.Set(keySecret, cfg.Secret)
	}
	if cfg.SessionTTL != 0 && cfg.SessionTTL != defaultSessionTTL {
		out.Set(keySessionTTL, cfg.SessionTTL.String())
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	// Written beside the target and renamed so a concurrent reload never
	// reads a half-written file.
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp.ini")
	if err := out.WriteConfigAs(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	logger().Info("config saved", zap.String("path", path))
	return nil
}

// defaultConfigPath prefers config.ini beside the executable and falls back
// to the user's home when that directory is not writable.
func defaultConfigPath() string {
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidate := filepath.Join(dir, configFileName)
		if fileExists(candidate) || dirWritable(dir) {
			return candidate
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return configFileName
	}
	return filepath.Join(home, fallbackConfigDir, configFileName)
}

// defaultLogDir mirrors defaultConfigPath for the logs directory.
func defaultLogDir(configPath string) string {
	dir := filepath.Join(filepath.Dir(configPath), "logs")
	if err := os.MkdirAll(dir, 0755); err == nil && dirWritable(dir) {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, fallbackConfigDir, "logs")
}

func dirWritable(dir string) bool {
	probe := filepath.Join(dir, configWriteTestTmp)
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// configWatcher reloads the configStore when its file changes on disk.
type configWatcher struct {
	mu      sync.Mutex
	current *fsnotify.Watcher
	cancel  context.CancelFunc
	// onReload, if set, is called with every snapshot installed by a reload.
	onReload func(*Config)
}

// watch starts watching the directory holding store's file. Watching the
// directory rather than the file survives editors that replace the file.
func (m *configWatcher) watch(store *configStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	if m.current != nil {
		m.current.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return err
	}
	m.current = watcher

	if err := watcher.Add(filepath.Dir(store.Path())); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger().Warn("failed to close watcher after add error", zap.Error(closeErr))
		}
		cancel()
		m.current = nil
		m.cancel = nil
		return err
	}

	go m.run(ctx, watcher, store)
	return nil
}

func (m *configWatcher) run(ctx context.Context, watcher *fsnotify.Watcher, store *configStore) {
	target := filepath.Clean(store.Path())
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

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
			// Editors emit bursts of events for one save.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(configReloadDelay, func() {
				if ctx.Err() != nil {
					return
				}
				m.reload(store)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger().Warn("config watcher error", zap.Error(err))
		}
	}
}

func (m *configWatcher) reload(store *configStore) {
	if !fileExists(store.Path()) {
		return
	}
	cfg, err := store.load()
	if err != nil {
		logger().Error("config reload failed, keeping previous settings", zap.Error(err))
		return
	}
	logger().Info("config reloaded", zap.String("root_dir", cfg.RootDir))
	configReloads.Inc()
	if m.onReload != nil {
		m.onReload(cfg)
	}
}

func (m *configWatcher) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}
