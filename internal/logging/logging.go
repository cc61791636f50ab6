// Package logging sets up the process-wide op/go-logging backend and hands
// out named loggers, matching src/cluster/cluster.go's and
// src/store/redis.go's per-package `logger = logging.MustGetLogger("cluster")`
// convention and original_source/application/custom_logger.py's
// timestamp-plus-level formatting.
package logging

import (
	"os"

	logging "github.com/op/go-logging"
)

const defaultFormat = `%{time:2006-01-02T15:04:05.000Z07:00} %{level:.4s} %{module}: %{message}`

// Init installs a stderr backend at the given level (e.g. "INFO", "DEBUG")
// across every logger obtained via Get, and should be called once from
// cmd/replica/main.go before any package-level logger is used. An
// unrecognized level falls back to INFO rather than erroring, since a typo
// in an env var should not keep the process from starting.
func Init(level string) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.MustStringFormatter(defaultFormat)
	formatted := logging.NewBackendFormatter(backend, formatter)

	leveled := logging.AddModuleLevel(formatted)
	lvl, err := logging.LogLevel(level)
	if err != nil {
		lvl = logging.INFO
	}
	leveled.SetLevel(lvl, "")

	logging.SetBackend(leveled)
}

// Get returns a named logger for module, mirroring
// logging.MustGetLogger(module) as used throughout src/cluster and src/store.
func Get(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}
