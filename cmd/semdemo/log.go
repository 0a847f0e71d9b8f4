package main

import (
	"os"

	"github.com/op/go-logging"
)

var format = logging.MustStringFormatter(
	"%{color}%{time:15:04:05.000} %{level:.1s} ▶%{color:reset} %{message}",
)

// newLogger sets up logging to stderr, so it doesn't get mixed with the report.
func newLogger(verbose bool) *logging.Logger {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, format))

	level := logging.INFO
	if verbose {
		level = logging.DEBUG
	}
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)

	return logging.MustGetLogger("semdemo")
}
