package cachefs

import (
	"time"

	"github.com/auriora/onemount-cachefs/pkg/errors"
)

// DiskCacheConfig controls the on-disk LRU content cache.
type DiskCacheConfig struct {
	// Enable gates whether FilePool populates the disk cache at all; false
	// forces every read-only open through the uncached streaming read path
	// and makes write-mode opens fail with ErrWriteWithoutCache.
	Enable bool `yaml:"enable"`
	// Path is the directory backing cache slot files, one per cached item.
	Path string `yaml:"path"`
	// MaxCachedFileSize is the largest single file DiskCache will populate.
	// Larger files bypass the cache entirely (ErrFileTooLarge on a
	// write-mode open of such a file or a truncate past it; writes are
	// bounded by Upload.MaxSize instead).
	MaxCachedFileSize uint64 `yaml:"max_cached_file_size"`
	// MaxFiles bounds the number of distinct cache slots kept on disk.
	MaxFiles int `yaml:"max_files"`
	// MaxTotalSize bounds the sum of all cached slots' sizes on disk.
	MaxTotalSize uint64 `yaml:"max_total_size"`
}

// DownloadConfig controls Downloader's retry behavior.
type DownloadConfig struct {
	MaxRetry   int           `yaml:"max_retry"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// StreamChunkSize bounds the size of a single chunk sent to a
	// Downloader sink.
	StreamChunkSize int `yaml:"stream_chunk_size"`
	// StreamBufferChunks bounds the chunk channel's capacity for an
	// uncached streaming read (CacheSlot downloads use a fixed capacity
	// instead; see internal/cachefs/diskcache.go).
	StreamBufferChunks int `yaml:"stream_buffer_chunks"`
}

// UploadConfig controls CacheSlot's deferred write-back behavior.
type UploadConfig struct {
	// MaxSize is the largest file CacheSlot will attempt to upload via
	// UploadSmall. Non-goal: chunked/resumable session uploads for files
	// above this size.
	MaxSize uint64 `yaml:"max_size"`
	// FlushDelay is how long a dirty slot waits, after the last write,
	// before starting an upload (coalescing window).
	FlushDelay time.Duration `yaml:"flush_delay"`
	// RetryDelay is the fixed delay between upload attempts. Upload retries
	// indefinitely until it succeeds or is superseded.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Config is the full set of options internal/cachefs recognizes.
type Config struct {
	DiskCache    DiskCacheConfig `yaml:"disk_cache"`
	Download     DownloadConfig  `yaml:"download"`
	Upload       UploadConfig    `yaml:"upload"`
	AttrCacheTTL time.Duration   `yaml:"attr_cache_ttl"`
}

// DefaultConfig returns the engine's built-in defaults, applied before any
// user-supplied YAML is merged over them.
func DefaultConfig() Config {
	return Config{
		DiskCache: DiskCacheConfig{
			Enable:            true,
			Path:              "cache",
			MaxCachedFileSize: 4 << 30,
			MaxFiles:          10000,
			MaxTotalSize:      50 << 30,
		},
		Download: DownloadConfig{
			MaxRetry:           5,
			RetryDelay:         2 * time.Second,
			StreamChunkSize:    32 * 1024,
			StreamBufferChunks: 64,
		},
		Upload: UploadConfig{
			MaxSize:    250 << 20,
			FlushDelay: 5 * time.Second,
			RetryDelay: 10 * time.Second,
		},
		AttrCacheTTL: time.Minute,
	}
}

// Validate checks the invariants the rest of the package depends on, in
// particular the budget-comparison fix: slot admission is checked against
// MaxTotalSize, which must therefore be large enough to hold at least one
// MaxCachedFileSize file.
func (c Config) Validate() error {
	if c.DiskCache.Path == "" {
		return errors.NewValidationError("disk_cache.path must not be empty", nil)
	}
	if c.DiskCache.MaxFiles <= 0 {
		return errors.NewValidationError("disk_cache.max_files must be positive", nil)
	}
	if c.DiskCache.MaxTotalSize < c.DiskCache.MaxCachedFileSize {
		return errors.NewValidationError("disk_cache.max_total_size must be >= max_cached_file_size", nil)
	}
	if c.Download.MaxRetry <= 0 {
		return errors.NewValidationError("download.max_retry must be positive", nil)
	}
	if c.Download.StreamChunkSize <= 0 {
		return errors.NewValidationError("download.stream_chunk_size must be positive", nil)
	}
	return nil
}
