package honeycomb

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	allFileName = "_all.jsonl"

	// DefaultLockTimeout matches the event store's lock discipline.
	DefaultLockTimeout = 10 * time.Second

	lockRetryDelay = 25 * time.Millisecond
)

// Store persists episodes as append-only JSONL: one file per colony plus
// a global file, both written under advisory file locks.
type Store struct {
	root        string
	lockTimeout time.Duration
	logger      *slog.Logger
}

// NewStore creates a store rooted at dir, typically <vault>/honeycomb.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("honeycomb: init store: %w", err)
	}
	return &Store{
		root:        dir,
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default().With("component", "honeycomb"),
	}, nil
}

// WithLockTimeout overrides the advisory lock timeout.
func (s *Store) WithLockTimeout(d time.Duration) *Store {
	s.lockTimeout = d
	return s
}

// Append writes the episode to its colony file and the global file.
func (s *Store) Append(ctx context.Context, e *Episode) error {
	if err := e.Validate(); err != nil {
		return err
	}
	line, err := e.Marshal()
	if err != nil {
		return err
	}

	if err := s.appendLine(ctx, s.colonyPath(e.ColonyID), line); err != nil {
		return err
	}
	if err := s.appendLine(ctx, filepath.Join(s.root, allFileName), line); err != nil {
		return err
	}
	s.logger.Debug("episode recorded", "episode_id", e.EpisodeID, "colony_id", e.ColonyID, "outcome", string(e.Outcome))
	return nil
}

func (s *Store) appendLine(ctx context.Context, path string, line []byte) error {
	lock := flock.New(path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("honeycomb: lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("honeycomb: lock %s: timeout", path)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("honeycomb: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("honeycomb: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("honeycomb: sync %s: %w", path, err)
	}
	return nil
}

// ReadColony loads all episodes recorded for one colony.
func (s *Store) ReadColony(colonyID string) ([]Episode, error) {
	return s.readFile(s.colonyPath(colonyID))
}

// ReadAll loads every episode across colonies from the global file.
func (s *Store) ReadAll() ([]Episode, error) {
	return s.readFile(filepath.Join(s.root, allFileName))
}

func (s *Store) readFile(path string) ([]Episode, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("honeycomb: open %s: %w", path, err)
	}
	defer f.Close()

	var episodes []Episode
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Episode
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("honeycomb: %s line %d: %w", path, lineNo, err)
		}
		episodes = append(episodes, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("honeycomb: scan %s: %w", path, err)
	}
	return episodes, nil
}

func (s *Store) colonyPath(colonyID string) string {
	return filepath.Join(s.root, colonyID+".jsonl")
}
