package main

import (
	"path/filepath"

	"github.com/warpgated/warpgate/internal/config"
)

// dataDir is the directory recordings, the entity fixture, and the known
// hosts file all live under, derived from the recordings path so a single
// `--data-dir` at setup time is enough to place everything (spec §6's
// recordings.path is the only on-disk root the config file names).
func dataDir(cfg *config.File) string {
	return filepath.Dir(cfg.Recordings.Path)
}

func fixturePath(cfg *config.File) string {
	return filepath.Join(dataDir(cfg), "fixture.json")
}

func knownHostsPath(cfg *config.File) string {
	return filepath.Join(dataDir(cfg), "known_hosts.json")
}
