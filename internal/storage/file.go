package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "dayong/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.messages.snapshot.json (periodic snapshot)
//   - <prefix>.messages.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and on
// CreateTable.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	rows         map[string]Message

	writes       int
	compactEvery int
}

type journalRecord struct {
	Op  string  `json:"op"` // "add" | "remove"
	Msg Message `json:"msg"`
}

func openFile(cfg Config, log logx.Logger) (RowStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".messages.snapshot.json"
	journalPath := prefix + ".messages.journal.jsonl"

	// Load rows from snapshot + journal.
	rows := map[string]Message{}
	if err := loadSnapshot(snapPath, rows); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot load failed", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, rows); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("rows", len(rows)))
	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		rows:         rows,
		compactEvery: 200,
	}, nil
}

// CreateTable writes a snapshot so the table exists on disk.
func (s *fileStore) CreateTable(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	return s.compactLocked()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) AddRow(ctx context.Context, m *Message) error {
	_ = ctx
	if m == nil {
		return errors.New("storage: nil message")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	prepare(m)
	if _, ok := s.rows[m.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, m.ID)
	}
	if err := s.appendLocked(journalRecord{Op: "add", Msg: *m}); err != nil {
		return err
	}
	s.rows[m.ID] = *m
	s.afterWriteLocked()
	return nil
}

func (s *fileStore) RemoveRow(ctx context.Context, tpl *Message) error {
	_ = ctx
	if tpl.IsZero() {
		return ErrEmptyTemplate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	for id, row := range s.rows {
		if !tpl.Matches(row) {
			continue
		}
		if err := s.appendLocked(journalRecord{Op: "remove", Msg: Message{ID: id}}); err != nil {
			return err
		}
		delete(s.rows, id)
		s.afterWriteLocked()
	}
	return nil
}

func (s *fileStore) GetRow(ctx context.Context, tpl *Message) ([]Message, error) {
	_ = ctx
	s.mu.Lock()
	if s.journalFile == nil {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	var out []Message
	for _, row := range s.rows {
		if tpl.Matches(row) {
			out = append(out, row)
		}
	}
	s.mu.Unlock()
	sortRows(out)
	return out, nil
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	return json.NewEncoder(s.journalFile).Encode(rec)
}

func (s *fileStore) afterWriteLocked() {
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.rows); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]Message) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Message
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]Message) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Msg.ID == "" {
			continue
		}
		switch r.Op {
		case "add":
			out[r.Msg.ID] = r.Msg
		case "remove":
			delete(out, r.Msg.ID)
		}
	}
	return sc.Err()
}

func sortRows(rows []Message) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
}
