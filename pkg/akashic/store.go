// Package akashic implements the Akashic Record: a set of independently
// addressable, append-only event streams stored as newline-delimited
// canonical JSON, hash-chained per stream and guarded by OS advisory file
// locks so a single machine can host many writers safely.
package akashic

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/hiveforge-labs/hiveforge/pkg/event"
)

const (
	streamFileName = "events.jsonl"

	// DefaultLockTimeout bounds advisory lock acquisition. Exceeding it is
	// fatal for the current operation, never retried silently.
	DefaultLockTimeout = 10 * time.Second

	lockRetryDelay = 25 * time.Millisecond
)

// reservedDirs are vault subdirectories that are not run streams.
var reservedDirs = map[string]struct{}{
	"hives":     {},
	"honeycomb": {},
	"reqs":      {},
}

// Store owns the run-scoped streams under a vault directory. The stream
// key is the run id; hive-scoped events live in a parallel HiveStore.
type Store struct {
	root        string
	lockTimeout time.Duration
	logger      *slog.Logger

	// AppendObserver, when set, is notified after each durable append.
	// Used by the observability provider; must not block.
	AppendObserver func(stream string, e *event.Event)
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr("init", "", err)
	}
	return &Store{
		root:        dir,
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default().With("component", "akashic"),
	}, nil
}

// NewHiveStore creates the analogous store keyed by hive id under
// <vault>/hives. The contract is identical to the run store.
func NewHiveStore(vault string) (*Store, error) {
	return NewStore(filepath.Join(vault, "hives"))
}

// WithLockTimeout overrides the advisory lock timeout.
func (s *Store) WithLockTimeout(d time.Duration) *Store {
	s.lockTimeout = d
	return s
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) streamPath(key string) string {
	return filepath.Join(s.root, key, streamFileName)
}

// Append links e into the stream identified by its stream key and writes
// it durably. The protocol holds an exclusive advisory lock across the
// tail read and the write, so concurrent processes serialize and the
// chain invariant holds:
//
//  1. lock the stream file exclusively (bounded timeout)
//  2. recover the last event's hash by scanning backwards
//  3. seal the event (prev_hash, then hash over the canonical form)
//  4. append line + "\n"
//  5. unlock
func (s *Store) Append(ctx context.Context, e *event.Event) error {
	key := e.StreamKey()
	if key == "" {
		return storageErr("append", "", fmt.Errorf("event %s has no run_id or hive_id", e.ID))
	}

	path := s.streamPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return storageErr("append", key, err)
	}

	lock := flock.New(path + ".lock")
	locked, err := s.acquire(ctx, lock, true)
	if err != nil {
		return err
	}
	if !locked {
		return storageErr("append", key, ErrLockTimeout)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return storageErr("append", key, err)
	}
	defer f.Close()

	lastHash, err := lastEventHash(f)
	if err != nil {
		return storageErr("append", key, err)
	}

	if err := e.Seal(lastHash); err != nil {
		return storageErr("append", key, err)
	}

	line, err := e.Marshal()
	if err != nil {
		return storageErr("append", key, err)
	}

	if _, err := f.Seek(0, 2); err != nil {
		return storageErr("append", key, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return storageErr("append", key, err)
	}
	if err := f.Sync(); err != nil {
		return storageErr("append", key, err)
	}

	if s.AppendObserver != nil {
		s.AppendObserver(key, e)
	}
	s.logger.Debug("event appended", "stream", key, "type", string(e.Type), "id", e.ID)
	return nil
}

func (s *Store) acquire(ctx context.Context, lock *flock.Flock, exclusive bool) (bool, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	if exclusive {
		return lock.TryLockContext(lockCtx, lockRetryDelay)
	}
	return lock.TryRLockContext(lockCtx, lockRetryDelay)
}

// ReplayFilter narrows a replay to a time window. Zero bounds are open.
type ReplayFilter struct {
	Since time.Time
	Until time.Time
}

func (f ReplayFilter) admits(e *event.Event) bool {
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Replay reads the stream under a shared lock and yields events in file
// order through fn. Returning a non-nil error from fn stops the replay.
func (s *Store) Replay(ctx context.Context, key string, filter ReplayFilter, fn func(*event.Event) error) error {
	path := s.streamPath(key)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrStreamNotFound, key)
		}
		return storageErr("replay", key, err)
	}

	lock := flock.New(path + ".lock")
	locked, err := s.acquire(ctx, lock, false)
	if err != nil {
		return err
	}
	if !locked {
		return storageErr("replay", key, ErrLockTimeout)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(path)
	if err != nil {
		return storageErr("replay", key, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*event.MaxPayloadBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := event.Parse(line)
		if err != nil {
			return storageErr("replay", key, fmt.Errorf("line %d: %w", lineNo, err))
		}
		if !filter.admits(e) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return storageErr("replay", key, err)
	}
	return nil
}

// ReadAll replays the whole stream into memory.
func (s *Store) ReadAll(ctx context.Context, key string) ([]*event.Event, error) {
	var events []*event.Event
	err := s.Replay(ctx, key, ReplayFilter{}, func(e *event.Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListStreams returns the keys of all non-empty streams, sorted.
func (s *Store) ListStreams() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, storageErr("list", "", err)
	}
	var keys []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, reserved := reservedDirs[entry.Name()]; reserved {
			continue
		}
		info, err := os.Stat(s.streamPath(entry.Name()))
		if err != nil || info.Size() == 0 {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// CountEvents returns the number of events in a stream.
func (s *Store) CountEvents(ctx context.Context, key string) (int, error) {
	count := 0
	err := s.Replay(ctx, key, ReplayFilter{}, func(*event.Event) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// LastEvent returns the final event of a stream, or ErrStreamNotFound for
// an absent or empty stream.
func (s *Store) LastEvent(ctx context.Context, key string) (*event.Event, error) {
	var last *event.Event
	err := s.Replay(ctx, key, ReplayFilter{}, func(e *event.Event) error {
		last = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, fmt.Errorf("%w: %s is empty", ErrStreamNotFound, key)
	}
	return last, nil
}

// Export copies a stream's raw records to dest.
func (s *Store) Export(ctx context.Context, key, dest string) error {
	data, err := os.ReadFile(s.streamPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrStreamNotFound, key)
		}
		return storageErr("export", key, err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return storageErr("export", key, err)
	}
	return nil
}
