// Package store owns the durable record of the installed firmware version.
package store

import (
	"fmt"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultNamespace = "storage"
	DefaultKey       = "int_variable"
)

// ErrorKind classifies a store Error.
type ErrorKind int

const (
	// Corrupt means the backing store could not be brought into a usable
	// state.
	Corrupt ErrorKind = iota
	// Write means a new value could not be durably recorded.
	Write
)

func (k ErrorKind) String() string {
	switch k {
	case Corrupt:
		return "corrupt"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a VersionStore failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("version store %s failure: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// VersionStore reads and writes the installed version through a
// platform.KeyValueStore. It is the only writer of that record.
type VersionStore struct {
	log       logging.Logger
	kv        platform.KeyValueStore
	namespace string
	key       string
	def       firmware.Version
}

// Option configures a VersionStore.
type Option func(*VersionStore)

func WithNamespace(ns string) Option {
	return func(s *VersionStore) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

func WithKey(key string) Option {
	return func(s *VersionStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithDefault sets the version reported when nothing has been recorded.
func WithDefault(v firmware.Version) Option {
	return func(s *VersionStore) {
		s.def = v
	}
}

// Open initialises kv and returns a VersionStore on it. A store reporting
// platform.ErrNeedsErase is erased and initialised once more; a second failure
// is returned.
func Open(log logging.Logger, kv platform.KeyValueStore, opts ...Option) (*VersionStore, error) {
	if kv == nil {
		return nil, errors.New("key/value store must be provided")
	}
	s := &VersionStore{
		log:       log,
		kv:        kv,
		namespace: DefaultNamespace,
		key:       DefaultKey,
		def:       firmware.DefaultVersion,
	}
	for _, opt := range opts {
		opt(s)
	}

	err := kv.Init()
	if errors.Is(err, platform.ErrNeedsErase) {
		log.WithError(err).Warn("store needs erase, reformatting")
		if eraseErr := kv.Erase(); eraseErr != nil {
			return nil, &Error{Kind: Corrupt, Err: errors.WithMessage(eraseErr, "erase")}
		}
		err = kv.Init()
	}
	if err != nil {
		return nil, &Error{Kind: Corrupt, Err: errors.WithMessage(err, "init")}
	}
	return s, nil
}

// Load returns the recorded version. An absent record yields the default
// without writing anything. Unreadable records are logged and also yield the
// default; keeping the poll loop available matters more than this value.
func (s *VersionStore) Load() firmware.Version {
	log := s.log.WithFields(logrus.Fields{
		"namespace": s.namespace,
		"key":       s.key,
	})

	h, err := s.kv.Open(s.namespace, platform.ReadOnly)
	if errors.Is(err, platform.ErrNotFound) {
		log.WithField("version", s.def).Debug("no recorded version, using default")
		return s.def
	}
	if err != nil {
		log.WithError(err).Error("unable to open version record, using default")
		return s.def
	}
	defer s.close(h)

	v, err := h.GetInt8(s.key)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		log.WithField("version", s.def).Debug("no recorded version, using default")
		return s.def
	case err != nil:
		log.WithError(err).Error("version record unreadable, using default")
		return s.def
	}
	return firmware.Version(v)
}

// Save durably records v. On error the previously recorded version remains in
// effect.
func (s *VersionStore) Save(v firmware.Version) error {
	h, err := s.kv.Open(s.namespace, platform.ReadWrite)
	if err != nil {
		return &Error{Kind: Write, Err: errors.WithMessage(err, "open")}
	}
	defer s.close(h)

	if err := h.SetInt8(s.key, int8(v)); err != nil {
		return &Error{Kind: Write, Err: errors.WithMessage(err, "set")}
	}
	if err := h.Commit(); err != nil {
		return &Error{Kind: Write, Err: errors.WithMessage(err, "commit")}
	}
	s.log.WithField("version", v).Debug("recorded version")
	return nil
}

func (s *VersionStore) close(h platform.Handle) {
	if err := h.Close(); err != nil {
		s.log.WithError(err).Warn("unable to close store handle")
	}
}
