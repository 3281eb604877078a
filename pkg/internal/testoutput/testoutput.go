// Package testoutput routes log output into the test log and records entries
// for assertions.
package testoutput

import (
	"io"
	"os"
	"testing"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// New returns a writer that writes strings (assuming lines) to the testing
// logger.
func New(t testing.TB) io.Writer {
	return &testoutput{t}
}

// Logger returns a logger for component that writes to the test log only.
// Loggers returned here are independent of the process root logger so tests
// may run in parallel.
func Logger(t testing.TB, component string) logging.Logger {
	l, _ := Recorder(t, component)
	return l
}

// Recorder is Logger that additionally returns a hook holding every entry
// logged through it.
func Recorder(t testing.TB, component string) (logging.Logger, *test.Hook) {
	l := logrus.New()
	l.SetOutput(New(t))
	l.SetLevel(logrus.DebugLevel)
	hook := test.NewLocal(l)
	return l.WithField("component", component), hook
}

// Setter may be given to logging to configure the root output to be sent to
// the testing facade. Tests using it must not run in parallel.
func Setter(t testing.TB) logging.Setter {
	return func(l *logrus.Logger) error {
		l.SetOutput(New(t))
		l.SetLevel(logrus.DebugLevel)
		return nil
	}
}

// Revert restores the root logger output to stderr.
func Revert() logging.Setter {
	return func(l *logrus.Logger) error {
		l.SetOutput(os.Stderr)
		return nil
	}
}

// Entries returns the entries recorded at or above level.
func Entries(hook *test.Hook, level logrus.Level) []logrus.Entry {
	var out []logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level <= level {
			out = append(out, *e)
		}
	}
	return out
}

type testoutput struct {
	t testing.TB
}

func (l *testoutput) Write(p []byte) (n int, err error) {
	l.t.Logf("%s", p)
	return len(p), nil
}
