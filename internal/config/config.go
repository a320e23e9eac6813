// Package config loads onemount-cachefs's YAML configuration file, merging
// it over built-in defaults, in the same four-step shape (read, parse,
// merge, validate) as the teacher project's cmd/common/config.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/imdario/mergo"
	yaml "gopkg.in/yaml.v3"

	"github.com/auriora/onemount-cachefs/internal/cachefs"
	"github.com/auriora/onemount-cachefs/pkg/logging"
)

// File is the on-disk configuration shape: cachefs.Config plus the daemon
// options that sit above it (cache directory root, log level, sync cursor
// directory).
type File struct {
	CacheDir string `yaml:"cacheDir"`
	LogLevel string `yaml:"log"`
	SyncDir  string `yaml:"syncCursorDir"`

	DiskCache cachefs.DiskCacheConfig `yaml:"disk_cache"`
	Download  cachefs.DownloadConfig  `yaml:"download"`
	Upload    cachefs.UploadConfig    `yaml:"upload"`
	AttrCacheTTLSeconds int           `yaml:"attr_cache_ttl_seconds"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	confDir, err := os.UserConfigDir()
	if err != nil {
		logging.Error().Err(err).Msg("could not determine configuration directory")
	}
	return filepath.Join(confDir, "cachefsd/config.yml")
}

func defaults() File {
	xdgCacheDir, _ := os.UserCacheDir()
	base := cachefs.DefaultConfig()
	return File{
		CacheDir:            filepath.Join(xdgCacheDir, "cachefsd"),
		LogLevel:            "info",
		SyncDir:             filepath.Join(xdgCacheDir, "cachefsd"),
		DiskCache:           base.DiskCache,
		Download:            base.Download,
		Upload:              base.Upload,
		AttrCacheTTLSeconds: int(base.AttrCacheTTL.Seconds()),
	}
}

// Load reads path, merges it over the defaults, and validates the result.
// A missing or unparsable file is not an error: it falls back to defaults,
// logging a warning, matching the teacher's LoadConfig behavior.
func Load(path string) *File {
	def := defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("configuration file not found, using defaults")
		return &def
	}

	file := &File{}
	if err := yaml.Unmarshal(raw, file); err != nil {
		logging.Error().Err(err).Str("path", path).Msg("could not parse configuration file, using defaults")
		return &def
	}

	if err := mergo.Merge(file, def); err != nil {
		logging.Error().Err(err).Str("path", path).Msg("could not merge configuration with defaults")
		return &def
	}

	if err := validate(file); err != nil {
		logging.Error().Err(err).Str("path", path).Msg("invalid configuration, using defaults")
		return &def
	}

	return file
}

func validate(f *File) error {
	if f.CacheDir == "" {
		return fmt.Errorf("cacheDir must not be empty")
	}
	if f.DiskCache.Path == "" {
		f.DiskCache.Path = filepath.Join(f.CacheDir, "content")
	}
	return f.ToEngineConfig().Validate()
}

// ToEngineConfig projects the on-disk File into internal/cachefs's Config.
func (f *File) ToEngineConfig() cachefs.Config {
	return cachefs.Config{
		DiskCache:    f.DiskCache,
		Download:     f.Download,
		Upload:       f.Upload,
		AttrCacheTTL: time.Duration(f.AttrCacheTTLSeconds) * time.Second,
	}
}
