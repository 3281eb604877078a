package logging

import "github.com/sirupsen/logrus"

// DebugEnable is set at link time (-X .../logging.DebugEnable=1) to produce a
// debuggable build.
var DebugEnable string

// Debuggable builds log at trace level regardless of configuration.
var Debuggable = DebugEnable != ""

// Trace lowers the root level to trace in Debuggable builds and does nothing
// otherwise.
func Trace() Setter {
	return func(r *logrus.Logger) error {
		if Debuggable {
			r.SetLevel(logrus.TraceLevel)
		}
		return nil
	}
}
