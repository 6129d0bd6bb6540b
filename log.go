package av1enc

import (
	"github.com/kataras/golog"

	"github.com/thesyncim/av1enc/od4"
)

var logger = golog.Child("[av1enc]")

// SetVerbose switches per-frame diagnostics on or off. Child loggers keep
// the level they were created with, so each one is set explicitly.
func SetVerbose(verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	golog.SetLevel(level)
	logger.SetLevel(level)
	od4.SetLogLevel(level)
}
