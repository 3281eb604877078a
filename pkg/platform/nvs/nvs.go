// Package nvs is a file backed implementation of platform.KeyValueStore.
//
// The store is a single TOML document:
//
//	format = 2
//
//	[namespaces.storage]
//	  int_variable = 3
//
// Commits replace the file atomically (temporary file, fsync, rename), so a
// reader never observes a partially written store.
package nvs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/platform"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// FormatVersion is the document layout written by this package. Documents
// with any other format must be erased before use.
const FormatVersion = 2

const (
	keyFormat     = "format"
	keyNamespaces = "namespaces"
)

var _ platform.KeyValueStore = (*Store)(nil)

// Store is a namespaced key/value store persisted to one file.
type Store struct {
	log  logging.Logger
	path string

	mu          sync.Mutex
	initialized bool
	namespaces  map[string]map[string]interface{}
}

// New returns a Store persisted at path. No file is touched until Init.
func New(log logging.Logger, path string) *Store {
	return &Store{log: log, path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Init loads the store. A missing file is an empty store. An unreadable
// document or a foreign format reports platform.ErrNeedsErase.
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.namespaces = map[string]map[string]interface{}{}
		s.initialized = true
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read store %s", s.path)
	}

	namespaces, err := decode(raw)
	if err != nil {
		s.initialized = false
		return errors.Wrap(platform.ErrNeedsErase, err.Error())
	}
	s.namespaces = namespaces
	s.initialized = true
	return nil
}

// Erase moves the current document aside as a backup and leaves the store
// uninitialized. Init must be called again afterwards.
func (s *Store) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = false
	s.namespaces = nil

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil
	}

	backup := fmt.Sprintf("%s.corrupted.%d", s.path, time.Now().UnixNano())
	renameErr := os.Rename(s.path, backup)
	if renameErr == nil {
		s.log.WithField("backup", backup).Warn("erased store, previous contents kept as backup")
		return nil
	}

	var result *multierror.Error
	result = multierror.Append(result, errors.Wrap(renameErr, "back up store"))
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, errors.Wrap(err, "remove store"))
		return result.ErrorOrNil()
	}
	s.log.WithError(renameErr).Warn("erased store without backup")
	return nil
}

// Open returns a handle on namespace.
func (s *Store) Open(namespace string, mode platform.Mode) (platform.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil, platform.ErrNotInitialized
	}
	if err := CheckName(namespace); err != nil {
		return nil, errors.WithMessage(err, "namespace")
	}
	if _, ok := s.namespaces[namespace]; !ok && mode == platform.ReadOnly {
		return nil, errors.Wrapf(platform.ErrNotFound, "namespace %q", namespace)
	}
	return &handle{
		store:     s,
		namespace: namespace,
		mode:      mode,
		pending:   map[string]interface{}{},
	}, nil
}

func (s *Store) get(namespace, key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.namespaces[namespace][key]
	return v, ok
}

// commit merges pending into namespace and persists the whole document. The
// in-memory view only changes once the file has been replaced.
func (s *Store) commit(namespace string, pending map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return platform.ErrNotInitialized
	}

	next := make(map[string]map[string]interface{}, len(s.namespaces)+1)
	for ns, kv := range s.namespaces {
		next[ns] = kv
	}
	merged := make(map[string]interface{}, len(s.namespaces[namespace])+len(pending))
	for k, v := range s.namespaces[namespace] {
		merged[k] = v
	}
	for k, v := range pending {
		merged[k] = v
	}
	next[namespace] = merged

	raw, err := encode(next)
	if err != nil {
		return err
	}
	if _, err := decode(raw); err != nil {
		return errors.WithMessage(err, "encoded store does not read back")
	}
	if err := writeFileAtomic(s.path, raw); err != nil {
		return err
	}
	s.namespaces = next
	return nil
}

// CheckName reports whether name can be used as a namespace or key. Names are
// limited to the characters of a bare TOML key.
func CheckName(name string) error {
	if name == "" {
		return errors.New("name must be provided")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return errors.Errorf("name %q contains %q, only letters, digits, '_' and '-' are allowed", name, r)
		}
	}
	return nil
}

type handle struct {
	store     *Store
	namespace string
	mode      platform.Mode
	pending   map[string]interface{}
	closed    bool
}

func (h *handle) GetInt8(key string) (int8, error) {
	if h.closed {
		return 0, errors.New("handle is closed")
	}
	v, ok := h.pending[key]
	if !ok {
		v, ok = h.store.get(h.namespace, key)
	}
	if !ok {
		return 0, errors.Wrapf(platform.ErrNotFound, "key %q", key)
	}
	i, ok := v.(int64)
	if !ok || i < -128 || i > 127 {
		return 0, errors.Wrapf(platform.ErrTypeMismatch, "key %q holds %v", key, v)
	}
	return int8(i), nil
}

func (h *handle) SetInt8(key string, value int8) error {
	if h.closed {
		return errors.New("handle is closed")
	}
	if h.mode != platform.ReadWrite {
		return platform.ErrReadOnly
	}
	if err := CheckName(key); err != nil {
		return errors.WithMessage(err, "key")
	}
	h.pending[key] = int64(value)
	return nil
}

func (h *handle) Commit() error {
	if h.closed {
		return errors.New("handle is closed")
	}
	if len(h.pending) == 0 {
		return nil
	}
	if err := h.store.commit(h.namespace, h.pending); err != nil {
		return errors.WithMessage(err, "commit")
	}
	h.pending = map[string]interface{}{}
	return nil
}

// Close discards uncommitted writes.
func (h *handle) Close() error {
	h.closed = true
	h.pending = nil
	return nil
}

func decode(raw []byte) (map[string]map[string]interface{}, error) {
	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt store document")
	}
	format, ok := tree.Get(keyFormat).(int64)
	if !ok {
		return nil, errors.New("store document has no format")
	}
	if format != FormatVersion {
		return nil, errors.Errorf("store format %d, expected %d", format, FormatVersion)
	}

	namespaces := map[string]map[string]interface{}{}
	if !tree.Has(keyNamespaces) {
		return namespaces, nil
	}
	nsTree, ok := tree.Get(keyNamespaces).(*toml.Tree)
	if !ok {
		return nil, errors.New("store namespaces is not a table")
	}
	for _, ns := range nsTree.Keys() {
		kvTree, ok := nsTree.GetPath([]string{ns}).(*toml.Tree)
		if !ok {
			return nil, errors.Errorf("namespace %q is not a table", ns)
		}
		kv := map[string]interface{}{}
		for _, key := range kvTree.Keys() {
			kv[key] = kvTree.GetPath([]string{key})
		}
		namespaces[ns] = kv
	}
	return namespaces, nil
}

func encode(namespaces map[string]map[string]interface{}) ([]byte, error) {
	tables := make(map[string]interface{}, len(namespaces))
	for ns, kv := range namespaces {
		table := make(map[string]interface{}, len(kv))
		for k, v := range kv {
			table[k] = v
		}
		tables[ns] = table
	}
	tree, err := toml.TreeFromMap(map[string]interface{}{
		keyFormat:     int64(FormatVersion),
		keyNamespaces: tables,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode store document")
	}
	raw, err := tree.Marshal()
	return raw, errors.Wrap(err, "encode store document")
}

func writeFileAtomic(path string, raw []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.Wrap(err, "create store dir")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp")
	}
	tmpName := tmp.Name()
	defer func() {
		if _, err := os.Stat(tmpName); err == nil {
			os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "set temp permissions")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "move %s to %s", tmpName, path)
	}
	return nil
}
