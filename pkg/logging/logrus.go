package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ComponentKey is the field naming the subsystem an entry came from.
const ComponentKey = "component"

// Console is the log_file value keeping output on stderr.
const Console = "console"

// Rotation limits for file output.
const (
	rotateMegabytes = 5
	rotateBackups   = 10
	rotateDays      = 30
)

// Setter adjusts the process wide logger.
type Setter func(*logrus.Logger) error

// Logger is the component scoped logger handed to every package.
type Logger interface {
	logrus.FieldLogger

	Writer() *io.PipeWriter
	WriterLevel(logrus.Level) *io.PipeWriter
}

type rootLogger struct {
	mu     sync.Mutex
	logger *logrus.Logger
}

var root = newRoot()

func newRoot() *rootLogger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	})
	return &rootLogger{logger: l}
}

// apply runs every setter, even after one fails, and returns all failures.
func (r *rootLogger) apply(setters []Setter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result *multierror.Error
	for _, setter := range setters {
		if err := setter(r.logger); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// New returns a Logger tagged with component. Setters that fail are reported
// through the returned logger rather than to the caller.
func New(component string, setters ...Setter) Logger {
	log := root.logger.WithField(ComponentKey, component)
	if err := root.apply(setters); err != nil {
		log.WithError(err).Warn("unable to configure logger")
	}
	return log
}

// Set applies setters to the root logger.
func Set(setters ...Setter) error {
	return root.apply(setters)
}

// Level sets the minimum level logged. Unknown level names are rejected and
// leave the current level in place.
func Level(name string) Setter {
	return func(r *logrus.Logger) error {
		lvl, err := logrus.ParseLevel(name)
		if err != nil {
			return errors.Wrap(err, "log level")
		}
		r.SetLevel(lvl)
		return nil
	}
}

// File sends output to a size rotated file at path. An empty path or Console
// keeps output on stderr.
func File(path string) Setter {
	return func(r *logrus.Logger) error {
		if path == "" || path == Console {
			r.SetOutput(os.Stderr)
			return nil
		}
		r.SetOutput(&lumberjack.Logger{
			Filename:   filepath.Clean(path),
			MaxSize:    rotateMegabytes,
			MaxBackups: rotateBackups,
			MaxAge:     rotateDays,
			Compress:   true,
		})
		return nil
	}
}
