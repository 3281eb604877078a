package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"gotest.tools/assert"
)

func TestNewCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	defer Set(func(l *logrus.Logger) error {
		l.SetOutput(os.Stderr)
		return nil
	})
	Set(func(l *logrus.Logger) error {
		l.SetOutput(&buf)
		return nil
	})

	New("agent").Info("hello")
	assert.Check(t, bytes.Contains(buf.Bytes(), []byte("component=agent")), buf.String())
}

func TestLevel(t *testing.T) {
	defer Set(Level("info"))

	assert.NilError(t, Set(Level("warn")))
	assert.Equal(t, logrus.WarnLevel, root.logger.GetLevel())

	assert.ErrorContains(t, Set(Level("not-a-level")), "log level")
	assert.Equal(t, logrus.WarnLevel, root.logger.GetLevel(), "a rejected level keeps the current one")
}

func TestSetAppliesEverySetter(t *testing.T) {
	defer Set(Level("info"), File(""))

	var buf bytes.Buffer
	err := Set(
		Level("info"),
		Level("bogus"),
		func(l *logrus.Logger) error {
			l.SetOutput(&buf)
			return nil
		},
	)
	assert.ErrorContains(t, err, "log level")

	New("set-test").Info("still configured")
	assert.Check(t, bytes.Contains(buf.Bytes(), []byte("still configured")))
}

func TestFile(t *testing.T) {
	defer Set(File(""))

	path := filepath.Join(t.TempDir(), "otawatch.log")
	assert.NilError(t, Set(File(path)))
	New("file-test").Error("to file")

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Check(t, bytes.Contains(data, []byte("to file")))
}

func TestSplit(t *testing.T) {
	defer Set(Output(""))

	var out, errOut bytes.Buffer
	assert.NilError(t, Set(Split(&out, &errOut)))
	// Applying twice must not duplicate lines.
	assert.NilError(t, Set(Split(&out, &errOut)))

	log := New("split-test")
	log.Info("routine")
	log.Error("broken")

	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("routine")))
	assert.Check(t, !bytes.Contains(out.Bytes(), []byte("broken")))
	assert.Equal(t, 1, bytes.Count(errOut.Bytes(), []byte("broken")))

	assert.NilError(t, Set(Output(Console)))
	assert.Equal(t, 0, len(root.logger.Hooks))
}

func TestTraceOnlyWhenDebuggable(t *testing.T) {
	defer Set(Level("info"))
	assert.NilError(t, Set(Level("info")))
	assert.NilError(t, Set(Trace()))
	if Debuggable {
		assert.Equal(t, logrus.TraceLevel, root.logger.GetLevel())
	} else {
		assert.Equal(t, logrus.InfoLevel, root.logger.GetLevel())
	}
}
