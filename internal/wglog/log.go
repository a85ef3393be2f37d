// Package wglog initializes the process-wide logrus sink per spec's ambient
// logging component (spec §2, Ambient Stack), matching the teacher's
// convention of a single package-level logrus configuration call made once
// from main and per-component `log.WithField(trace.Component, ...)` entries
// everywhere else.
package wglog

import (
	"os"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/warpgated/warpgate/internal/config"
)

// Init configures the standard logrus logger's level and formatter from cfg,
// matching spec §6's log.level/log.format knobs.
func Init(cfg config.LogConfig) error {
	level, err := log.ParseLevel(defaultString(cfg.Level, "info"))
	if err != nil {
		return trace.Wrap(err)
	}
	log.SetLevel(level)

	switch defaultString(cfg.Format, "text") {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stderr)
	return nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// Component returns a logger scoped to component, mirroring the teacher's
// `log.WithField(trace.Component, name)` idiom used throughout lib/srv.
func Component(name string) *log.Entry {
	return log.WithField(trace.Component, name)
}
