package monitoring

import "log"

// LogFunc is the printf-style signature shared by every diagnostic logger.
type LogFunc func(format string, v ...interface{})

// Logf is the process-wide diagnostic sink. It defaults to log.Printf.
// Tests may assign it directly; production code uses SetLogger.
var Logf LogFunc = log.Printf

// SetLogger replaces Logf. nil mutes all diagnostics.
func SetLogger(f LogFunc) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Component returns a logger that prefixes every message with "name: ".
// Logf is looked up on each call, so a later SetLogger still takes effect.
func Component(name string) LogFunc {
	prefix := name + ": "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
