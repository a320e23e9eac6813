// Command cachefsd wires the cache engine (DiskCache, FilePool, InodePool)
// to a remote client and runs until signalled, logging update events as they
// arrive and broadcasting them over D-Bus when a session bus is reachable.
// It deliberately stops short of mounting a FUSE filesystem: see
// SPEC_FULL.md section 1 for why the VFS adapter is out of this repository's
// scope.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/auriora/onemount-cachefs/internal/cachefs"
	"github.com/auriora/onemount-cachefs/internal/config"
	"github.com/auriora/onemount-cachefs/internal/synccursor"
	"github.com/auriora/onemount-cachefs/pkg/logging"
	"github.com/auriora/onemount-cachefs/pkg/remote"
)

func usage() {
	fmt.Print(`cachefsd - per-file caching and transfer engine for a remote object store.

This program wires the disk cache, file pool, and inode pool together and
runs until signalled. It does not mount a filesystem; it is the engine a
VFS front-end would embed.

Usage: cachefsd [options]

Valid options:
`)
	flag.PrintDefaults()
}

func main() {
	logging.DefaultLogger = logging.NewConsole(os.Stderr)

	configPath := flag.StringP("config-file", "f", config.DefaultPath(),
		"A YAML-formatted configuration file.")
	logLevel := flag.StringP("log", "l", "", "Logging level: trace, debug, info, warn, error, fatal.")
	cacheDir := flag.StringP("cache-dir", "c", "", "Override the configured cache directory.")
	rootItemID := flag.StringP("root-item-id", "r", "root", "Remote item id to use as the filesystem root.")
	help := flag.BoolP("help", "h", false, "Display this help message.")
	flag.Usage = usage
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	cfgFile := config.Load(*configPath)
	if *cacheDir != "" {
		cfgFile.CacheDir = *cacheDir
		cfgFile.DiskCache.Path = filepath.Join(*cacheDir, "content")
	}
	if *logLevel != "" {
		cfgFile.LogLevel = *logLevel
	}
	if level, err := logging.ParseLevel(cfgFile.LogLevel); err == nil {
		logging.SetGlobalLevel(level)
	}

	logging.Info().Str("cacheDir", cfgFile.CacheDir).Str("config", *configPath).Msg("starting cachefsd")

	// No production remote client is wired here: authentication and
	// transport for a real object store are out of scope for this
	// repository (see pkg/remote.Client and SPEC_FULL.md section 1). A
	// real deployment supplies its own remote.Client implementation.
	logging.Warn().Msg("no production remote.Client configured, running against an in-memory mock")
	client := remote.NewMockClient()
	client.AddItem(remote.Metadata{ID: *rootItemID, IsDir: true}, nil)

	engineCfg := cfgFile.ToEngineConfig()
	cache, err := cachefs.NewDiskCache(engineCfg, client)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize disk cache")
	}

	cursorPath := filepath.Join(cfgFile.SyncDir, "synccursor.db")
	if err := os.MkdirAll(cfgFile.SyncDir, 0o700); err != nil {
		logging.Fatal().Err(err).Msg("failed to create sync cursor directory")
	}
	cursors, err := synccursor.Open(cursorPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open sync cursor store")
	}

	// FilePool and InodePool are constructed here because a VFS front-end
	// embedding this engine would drive them directly; this daemon has no
	// such front-end, so they sit idle past this point.
	pool := cachefs.NewFilePool(cache, client, engineCfg, engineCfg.DiskCache.Enable)
	inodes := cachefs.NewInodePool(client, *rootItemID, engineCfg.AttrCacheTTL)
	logging.Info().Msg("file pool and inode pool ready")
	_ = pool
	_ = inodes

	broadcaster, err := cachefs.NewItemStatusBroadcaster()
	if err != nil {
		logging.Warn().Err(err).Msg("no D-Bus session bus available, item-status updates will only be logged")
	} else {
		defer broadcaster.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go logUpdateEvents(ctx, cache, broadcaster)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info().Msg("shutting down")
	cancel()
	if err := cache.Close(); err != nil {
		logging.Error().Err(err).Msg("error closing disk cache")
	}
	if err := cursors.Close(); err != nil {
		logging.Error().Err(err).Msg("error closing sync cursor store")
	}
	<-time.After(100 * time.Millisecond)
}

func logUpdateEvents(ctx context.Context, cache *cachefs.DiskCache, broadcaster *cachefs.ItemStatusBroadcaster) {
	for {
		select {
		case ev, ok := <-cache.Events():
			if !ok {
				return
			}
			logging.Info().
				Str("item", ev.ItemID).
				Uint64("size", ev.Size).
				Time("mtime", ev.Mtime).
				Str("ctag", ev.CTag).
				Msg("item uploaded")
			broadcaster.Emit(ev)
		case <-ctx.Done():
			return
		}
	}
}
