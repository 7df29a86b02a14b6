// Package progress persists stage records as append-only JSONL logs, one
// file per stage, and rebuilds the index of completed items from them.
//
// Records produced while an item is processed are buffered and appended in
// one write per log when the item is flushed, so a crash leaves at most a
// partial final line. Such a line is skipped when the index is rebuilt.
package progress

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ahrav/go-t2ieval/internal/domain"
)

// ErrUnknownStage is returned for a stage the store was not opened with.
var ErrUnknownStage = errors.New("stage not tracked by progress store")

type stageLog struct {
	path  string
	index map[domain.ItemID]*domain.Record
	// pending holds encoded lines not yet appended.
	pending bytes.Buffer
}

// Store tracks the records of every stage log in one output directory. It is
// safe for concurrent use, though the pipeline drives it from one goroutine.
type Store struct {
	mu     sync.Mutex
	dir    string
	logs   map[domain.StageKey]*stageLog
	logger *slog.Logger
}

// Open creates dir if needed and replays the log of each key. The last
// record of an id in file order wins.
func Open(dir string, keys []domain.StageKey, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	s := &Store{
		dir:    dir,
		logs:   make(map[domain.StageKey]*stageLog, len(keys)),
		logger: logger.With("component", "progress"),
	}
	for _, k := range keys {
		l := &stageLog{path: filepath.Join(dir, k.FileName()), index: map[domain.ItemID]*domain.Record{}}
		if err := s.replay(k, l); err != nil {
			return nil, err
		}
		s.logs[k] = l
	}
	return s, nil
}

// Dir is the output directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) replay(key domain.StageKey, l *stageLog) error {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var lineNo int
	var size int64 // bytes up to the last complete line
	for {
		line, err := r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", l.path, err)
		}
		complete := len(line) > 0 && line[len(line)-1] == '\n'
		if complete {
			size += int64(len(line))
		}
		if len(bytes.TrimSpace(line)) > 0 {
			lineNo++
			var rec domain.Record
			switch uerr := json.Unmarshal(line, &rec); {
			case !complete:
				s.logger.Warn("dropping partial trailing record", "stage", key.Name(), "line", lineNo)
			case uerr == nil:
				l.index[rec.ID] = &rec
			default:
				return fmt.Errorf("%s:%d: %w", l.path, lineNo, uerr)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	if info, err := f.Stat(); err == nil && info.Size() > size {
		// Cut the partial line so appended records start on a line of their own.
		if err := os.Truncate(l.path, size); err != nil {
			return fmt.Errorf("truncate %s: %w", l.path, err)
		}
	}
	s.logger.Debug("replayed stage log", "stage", key.Name(), "records", len(l.index))
	return nil
}

func (s *Store) log(key domain.StageKey) (*stageLog, error) {
	l, ok := s.logs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, key)
	}
	return l, nil
}

// Get returns the authoritative record of id in the key's log.
func (s *Store) Get(key domain.StageKey, id domain.ItemID) (*domain.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[key]
	if !ok {
		return nil, false
	}
	rec, ok := l.index[id]
	return rec, ok
}

// Has reports whether id is done for key.
func (s *Store) Has(key domain.StageKey, id domain.ItemID) bool {
	_, ok := s.Get(key, id)
	return ok
}

// Len is the number of distinct ids recorded for key.
func (s *Store) Len(key domain.StageKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[key]; ok {
		return len(l.index)
	}
	return 0
}

// Put indexes rec and buffers it for the next Flush.
func (s *Store) Put(key domain.StageKey, rec *domain.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record %s: %w", key, rec.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.log(key)
	if err != nil {
		return err
	}
	l.index[rec.ID] = rec
	l.pending.Write(line)
	l.pending.WriteByte('\n')
	return nil
}

// Flush appends every buffered record and clears the buffers. Each log gets
// a single write.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for key, l := range s.logs {
		if l.pending.Len() == 0 {
			continue
		}
		if err := l.appendPending(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", key, err))
			continue
		}
		l.pending.Reset()
	}
	return errors.Join(errs...)
}

func (l *stageLog) appendPending() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(l.pending.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
