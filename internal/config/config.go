// Package config loads daemon and CLI settings from defaults, an optional
// YAML file, SRCINDEX_* environment variables and runtime overrides, in
// increasing order of precedence.
package config

import (
	"time"
)

const (
	// ConfigName is the base name of the config file and data directory.
	ConfigName = "srcindex"
	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "SRCINDEX"
)

// Config is the full application configuration.
type Config struct {
	Daemon     DaemonConfig     `mapstructure:"daemon"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Preprocess PreprocessConfig `mapstructure:"preprocess"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
}

type DaemonConfig struct {
	// SocketFile is the destination workers report results to. Empty means
	// <data_dir>/srcindex.sock.
	SocketFile string `mapstructure:"socket_file"`
	DataDir    string `mapstructure:"data_dir"`
}

type WorkersConfig struct {
	// Path is the worker executable. Empty means srcindex-worker next to
	// the running binary.
	Path                  string        `mapstructure:"path"`
	ProcessCount          int           `mapstructure:"process_count"`
	VisitFileTimeout      time.Duration `mapstructure:"visit_file_timeout"`
	IndexerMessageTimeout time.Duration `mapstructure:"indexer_message_timeout"`
}

type PreprocessConfig struct {
	// Compiler overrides the compiler recorded for each source.
	Compiler  string `mapstructure:"compiler"`
	CacheSize int    `mapstructure:"cache_size"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}
