package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// EnvSpec maps one environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

// Load builds the configuration and makes it available through GetConfig.
// Later overrides win over earlier ones and over every other source.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path := configFilePath(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, value := range flatten("", o) {
			v.Set(key, value)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers.ProcessCount < 1 {
		errs = append(errs, fmt.Errorf("workers.process_count must be >= 1, got %d", c.Workers.ProcessCount))
	}
	if c.Workers.VisitFileTimeout < 0 || c.Workers.IndexerMessageTimeout < 0 {
		errs = append(errs, errors.New("worker timeouts must not be negative"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Preprocess.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("preprocess.cache_size must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) resolvePaths() {
	c.Daemon.DataDir = expandHome(strings.TrimSpace(c.Daemon.DataDir))
	if c.Daemon.DataDir == "" {
		c.Daemon.DataDir = DefaultDataDir()
	}
	c.Daemon.SocketFile = expandHome(strings.TrimSpace(c.Daemon.SocketFile))
	if c.Daemon.SocketFile == "" {
		c.Daemon.SocketFile = filepath.Join(c.Daemon.DataDir, ConfigName+".sock")
	}
	c.Workers.Path = expandHome(strings.TrimSpace(c.Workers.Path))
	c.Logging.File = expandHome(strings.TrimSpace(c.Logging.File))
}

// JobsDir is where job records are kept.
func (c *Config) JobsDir() string {
	return filepath.Join(c.Daemon.DataDir, "jobs")
}

// IndexDBPath is the index store location.
func (c *Config) IndexDBPath() string {
	return filepath.Join(c.Daemon.DataDir, "index.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon.socket_file", "")
	v.SetDefault("daemon.data_dir", "")

	v.SetDefault("workers.path", "")
	v.SetDefault("workers.process_count", defaultProcessCount())
	v.SetDefault("workers.visit_file_timeout", "60s")
	v.SetDefault("workers.indexer_message_timeout", "10s")

	v.SetDefault("preprocess.compiler", "")
	v.SetDefault("preprocess.cache_size", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 7420)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

func getEnvSpecs() []EnvSpec {
	pairs := [][2]string{
		{"DATA_DIR", "daemon.data_dir"},
		{"SOCKET_FILE", "daemon.socket_file"},
		{"WORKER_PATH", "workers.path"},
		{"PROCESS_COUNT", "workers.process_count"},
		{"VISIT_FILE_TIMEOUT", "workers.visit_file_timeout"},
		{"INDEXER_MESSAGE_TIMEOUT", "workers.indexer_message_timeout"},
		{"COMPILER", "preprocess.compiler"},
		{"PREPROCESS_CACHE_SIZE", "preprocess.cache_size"},
		{"LOG_LEVEL", "logging.level"},
		{"LOG_FILE", "logging.file"},
		{"SERVER_ENABLED", "server.enabled"},
		{"HOST", "server.host"},
		{"PORT", "server.port"},
		{"READ_TIMEOUT", "server.read_timeout"},
		{"WRITE_TIMEOUT", "server.write_timeout"},
		{"IDLE_TIMEOUT", "server.idle_timeout"},
		{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	}
	specs := make([]EnvSpec, 0, len(pairs))
	for _, p := range pairs {
		specs = append(specs, EnvSpec{Name: EnvPrefix + "_" + p[0], Path: p[1]})
	}
	return specs
}

// SetConfigFile makes later Loads read path instead of searching for a
// config file. An empty path restores the search.
func SetConfigFile(path string) {
	configMu.Lock()
	configFile = strings.TrimSpace(path)
	configMu.Unlock()
}

// configFilePath returns the SetConfigFile path, else SRCINDEX_CONFIG, else
// the first existing user config file.
func configFilePath() string {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()
	if explicit != "" {
		return expandHome(explicit)
	}
	if path := strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG")); path != "" {
		return expandHome(path)
	}
	for _, path := range getUserConfigPaths() {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func getUserConfigPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ConfigName, "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "."+ConfigName+".yaml"))
	}
	return paths
}

// DefaultDataDir follows XDG_DATA_HOME, falling back to ~/.local/share.
func DefaultDataDir() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, ConfigName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", ConfigName)
	}
	return filepath.Join(os.TempDir(), ConfigName)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func defaultProcessCount() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		return 1
	}
	return n
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
