package monitoring

import "log"

// Logf carries pipeline diagnostics. The default writes through the standard
// logger; tests mute it with SetLogger(nil).
var Logf = log.Printf

// SetLogger swaps the sink behind Logf. nil mutes diagnostics entirely.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
}
