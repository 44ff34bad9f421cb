package cache

import (
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex

	// pkgLogger is the package-level logger for cache operations.
	// A no-op logger is used until SetLogger is called.
	pkgLogger = zerolog.Nop()
)

// SetLogger sets the package-level logger for cache operations. Call this
// during application initialization to enable cache logging. The logger is
// tagged with component: cache.
//
// Example:
//
//	logger := zerolog.New(os.Stdout).Level(zerolog.DebugLevel)
//	cache.SetLogger(&logger)
func SetLogger(l *zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	pkgLogger = l.With().Str("component", "cache").Logger()
}

// logger returns the current package logger.
func logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return pkgLogger
}
