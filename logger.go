package astibits

import "github.com/asticode/go-astikit"

// Right now we use a global logger because it feels weird to inject a logger in pure functions
// Indeed, logger is only needed to let the developer know when a malformed but tolerated structure
// has been found in the stream
var logger = astikit.AdaptStdLogger(nil)

// SetLogger sets the package logger
func SetLogger(l astikit.StdLogger) { logger = astikit.AdaptStdLogger(l) }
