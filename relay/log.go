package relay

import "github.com/kataras/golog"

var logger = golog.Child("[relay]")

// SetLogLevel sets the package logger level ("debug", "info", ...).
func SetLogLevel(level string) {
	logger.SetLevel(level)
}
