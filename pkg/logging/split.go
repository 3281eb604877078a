package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// ConsoleSplit is the log_file value selecting Split(os.Stdout, os.Stderr).
const ConsoleSplit = "split"

// splitHook directs matched levels to its configured output.
type splitHook struct {
	output io.Writer
	levels []logrus.Level
}

func (hook *splitHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = hook.output.Write([]byte(line))
	return err
}

func (hook *splitHook) Levels() []logrus.Level {
	return hook.levels
}

// Split dispatches errors and worse to errOut and everything else to out, so
// a service manager can tell them apart by stream. Hooks installed by an
// earlier Split are replaced.
func Split(out, errOut io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(io.Discard)
		r.ReplaceHooks(withoutSplit(r.Hooks))
		r.AddHook(&splitHook{out, []logrus.Level{
			logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel, logrus.TraceLevel}})
		r.AddHook(&splitHook{errOut, []logrus.Level{
			logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}})
		return nil
	}
}

// Output selects the destination named by a log_file setting: empty or
// Console for stderr, "split" for Split(os.Stdout, os.Stderr), otherwise a
// rotated file.
func Output(dest string) Setter {
	if dest == ConsoleSplit {
		return Split(os.Stdout, os.Stderr)
	}
	return func(r *logrus.Logger) error {
		r.ReplaceHooks(withoutSplit(r.Hooks))
		return File(dest)(r)
	}
}

func withoutSplit(in logrus.LevelHooks) logrus.LevelHooks {
	out := make(logrus.LevelHooks)
	for level, hs := range in {
		for _, h := range hs {
			if _, ok := h.(*splitHook); !ok {
				out[level] = append(out[level], h)
			}
		}
	}
	return out
}
