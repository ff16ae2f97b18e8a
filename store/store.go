// Package store persists therapy profiles as one JSON record per file in a
// dedicated directory. Storage keys are derived from the save timestamp with
// second resolution and sort lexicographically in creation order, so the
// directory needs no separate index.
//
// The store keeps no in-memory cache and no locks of its own; callers must
// serialize access (single-writer assumption).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mwinther/pumpvault/profile"
	"github.com/mwinther/pumpvault/telemetry"
)

// Extension identifies the serialization format of stored records. The
// key + extension file name convention is part of the on-disk contract and
// keeps file names human-diagnosable.
const Extension = ".json"

const keyLayout = "2006-01-02-15-04-05"

// Store is a file-backed profile repository.
type Store struct {
	dir       string
	logger    zerolog.Logger
	collector telemetry.Collector
	now       func() time.Time
}

// Option configures a store during construction.
type Option func(*Store)

// WithLogger provides a custom logger instance for the store.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		if s == nil {
			return
		}
		s.logger = logger
	}
}

// WithCollector injects a telemetry collector for storage operations.
func WithCollector(collector telemetry.Collector) Option {
	return func(s *Store) {
		if s == nil {
			return
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		s.collector = collector
	}
}

// WithClock overrides the timestamp source used to derive storage keys.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if s == nil || now == nil {
			return
		}
		s.now = now
	}
}

// New constructs a store rooted at dir. The directory is not provisioned
// until EnsureReady or the first Save.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:       dir,
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// EnsureReady idempotently provisions the storage directory.
func (s *Store) EnsureReady() error {
	info, err := os.Stat(s.dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s exists and is not a directory", ErrStorageUnavailable, s.dir)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %v", ErrStorageUnavailable, s.dir, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStorageUnavailable, s.dir, err)
	}
	return nil
}

// List enumerates stored records in key order, decoding only each record's
// name. Records that fail to deserialize are logged and skipped so a single
// corrupt file cannot make the whole collection unavailable. List never
// fails; a missing directory yields an empty listing.
func (s *Store) List() []profile.Reference {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("dir", s.dir).Msg("scan profile storage")
		}
		return nil
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(entry.Name(), Extension))
	}
	sort.Strings(keys)

	refs := make([]profile.Reference, 0, len(keys))
	for _, key := range keys {
		name, err := s.readName(key)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("skip unreadable profile record")
			s.collector.IncCorruptRecord()
			continue
		}
		refs = append(refs, profile.Reference{Name: name, Key: key})
	}
	s.collector.IncStoreOperation("list", "ok")
	return refs
}

// Save provisions storage if needed and writes p under a fresh
// timestamp-derived key. When records with the same name already exist they
// are removed after the new record is durably written, so a crash between
// the two steps leaves a duplicate name rather than no record at all.
// Save returns the new reference together with the refreshed listing.
func (s *Store) Save(p profile.Profile) (profile.Reference, []profile.Reference, error) {
	if err := s.EnsureReady(); err != nil {
		s.collector.IncStoreOperation("save", "error")
		return profile.Reference{}, nil, err
	}

	old := make([]profile.Reference, 0, 1)
	for _, ref := range s.List() {
		if ref.Name == p.Name {
			old = append(old, ref)
		}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		s.collector.IncStoreOperation("save", "error")
		return profile.Reference{}, nil, fmt.Errorf("encode profile %q: %w", p.Name, err)
	}

	key, err := s.freshKey()
	if err != nil {
		s.collector.IncStoreOperation("save", "error")
		return profile.Reference{}, nil, err
	}
	if err := os.WriteFile(s.path(key), raw, 0o644); err != nil {
		s.collector.IncStoreOperation("save", "error")
		return profile.Reference{}, nil, fmt.Errorf("write profile %q: %w", p.Name, err)
	}

	for _, ref := range old {
		if err := os.Remove(s.path(ref.Key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("key", ref.Key).Msg("remove replaced profile record")
		}
	}

	s.logger.Debug().Str("name", p.Name).Str("key", key).Int("replaced", len(old)).Msg("profile saved")
	s.collector.IncStoreOperation("save", "ok")
	return profile.Reference{Name: p.Name, Key: key}, s.List(), nil
}

// Load reads the full record addressed by ref.
func (s *Store) Load(ref profile.Reference) (profile.Profile, error) {
	raw, err := os.ReadFile(s.path(ref.Key))
	if err != nil {
		s.collector.IncStoreOperation("load", "error")
		if errors.Is(err, os.ErrNotExist) {
			return profile.Profile{}, fmt.Errorf("%w: %s", ErrNotFound, ref.Key)
		}
		return profile.Profile{}, fmt.Errorf("read profile %s: %w", ref.Key, err)
	}
	var p profile.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		s.collector.IncStoreOperation("load", "error")
		return profile.Profile{}, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, ref.Key, err)
	}
	// Re-run the aggregate's structural checks so a syntactically valid but
	// empty record counts as corrupt here just as it does during listing.
	if _, err := profile.New(p.Name, p.CorrectionRange, p.CarbRatio, p.BasalRate, p.InsulinSensitivity); err != nil {
		s.collector.IncStoreOperation("load", "error")
		return profile.Profile{}, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, ref.Key, err)
	}
	s.collector.IncStoreOperation("load", "ok")
	return p, nil
}

// Delete removes the record addressed by ref.
func (s *Store) Delete(ref profile.Reference) error {
	if err := os.Remove(s.path(ref.Key)); err != nil {
		s.collector.IncStoreOperation("delete", "error")
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref.Key)
		}
		return fmt.Errorf("delete profile %s: %w", ref.Key, err)
	}
	s.logger.Debug().Str("key", ref.Key).Msg("profile deleted")
	s.collector.IncStoreOperation("delete", "ok")
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+Extension)
}

// freshKey derives a storage key from the current timestamp. Saves within
// the same second get a numeric suffix; "-N" sorts before the digits of the
// following second, so listing order still matches creation order. A stat
// failure other than "does not exist" aborts the probe: retrying a key that
// cannot be checked would loop forever.
func (s *Store) freshKey() (string, error) {
	base := s.now().Format(keyLayout)
	key := base
	for n := 1; ; n++ {
		_, err := os.Stat(s.path(key))
		if errors.Is(err, os.ErrNotExist) {
			return key, nil
		}
		if err != nil {
			return "", fmt.Errorf("%w: probe key %s: %v", ErrStorageUnavailable, key, err)
		}
		key = fmt.Sprintf("%s-%d", base, n)
	}
}

func (s *Store) readName(key string) (string, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		return "", err
	}
	var header struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if header.Name == "" {
		return "", fmt.Errorf("%w: record has no name", ErrCorruptRecord)
	}
	return header.Name, nil
}
