// Package slot stages firmware images on disk and activates them atomically.
// It is the host rendition of the device's inactive partition: an image is
// written beside the active one and replaces it only once fully received and
// verified.
package slot

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	// ImageName is the active image inside the slot directory.
	ImageName = "firmware.img"
	// DigestSuffix names the file holding the active image's SHA-256.
	DigestSuffix = ".sha256"

	stagingPattern = ".staging-*"
)

var _ platform.ImageSink = (*Sink)(nil)

// Sink is a platform.ImageSink over a directory.
type Sink struct {
	log logging.Logger
	dir string
}

func New(log logging.Logger, dir string) *Sink {
	return &Sink{log: log, dir: dir}
}

// Active returns the path of the active image.
func (s *Sink) Active() string {
	return filepath.Join(s.dir, ImageName)
}

// Dir returns the slot directory.
func (s *Sink) Dir() string {
	return s.dir
}

// Begin opens a staging file for a new image.
func (s *Sink) Begin() (platform.ImageWriter, error) {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return nil, errors.Wrap(err, "create slot dir")
	}
	f, err := os.CreateTemp(s.dir, stagingPattern)
	if err != nil {
		return nil, errors.Wrap(err, "create staging image")
	}
	return &writer{
		sink: s,
		file: f,
		hash: sha256.New(),
	}, nil
}

// Clean removes staging files left behind by an interrupted install.
func (s *Sink) Clean() error {
	stale, err := filepath.Glob(filepath.Join(s.dir, stagingPattern))
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, path := range stale {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
			continue
		}
		s.log.WithField("path", path).Info("removed stale staging image")
	}
	return result.ErrorOrNil()
}

type writer struct {
	sink *Sink
	file *os.File
	hash hash.Hash
	size int64
	done bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, errors.New("write to finished image")
	}
	n, err := w.file.Write(p)
	w.hash.Write(p[:n])
	w.size += int64(n)
	return n, err
}

func (w *writer) Commit(expectedSize int64) error {
	if w.done {
		return errors.New("image already finished")
	}
	switch {
	case w.size == 0:
		return w.fail(errors.Wrap(platform.ErrVerification, "empty image"))
	case expectedSize >= 0 && w.size != expectedSize:
		return w.fail(errors.Wrapf(platform.ErrVerification, "received %d of %d bytes", w.size, expectedSize))
	}

	if err := w.file.Sync(); err != nil {
		return w.fail(errors.Wrap(err, "sync staged image"))
	}
	staged := w.file.Name()
	if err := w.file.Close(); err != nil {
		return w.fail(errors.Wrap(err, "close staged image"))
	}
	if err := os.Rename(staged, w.sink.Active()); err != nil {
		return w.fail(errors.Wrap(err, "activate image"))
	}
	w.done = true
	syncDir(w.sink.dir)

	digest := hex.EncodeToString(w.hash.Sum(nil))
	if err := os.WriteFile(w.sink.Active()+DigestSuffix, []byte(digest+"\n"), 0640); err != nil {
		w.sink.log.WithError(err).Warn("unable to record image digest")
	}

	w.sink.log.WithField("sha256", digest).WithField("size", w.size).Info("activated image")
	return nil
}

func (w *writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	var result *multierror.Error
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		result = multierror.Append(result, err)
	}
	if err := os.Remove(w.file.Name()); err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// fail discards the staged image and returns err.
func (w *writer) fail(err error) error {
	if abortErr := w.Abort(); abortErr != nil {
		w.sink.log.WithError(abortErr).Warn("unable to discard staged image")
	}
	return err
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

// Digest returns the hex SHA-256 of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
