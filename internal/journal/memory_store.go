package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
)

// statusCleared marks a tombstone line in journal.log.
const statusCleared Status = "cleared"

// MemoryStore keeps the journal in memory. With a data directory every change
// is appended to journal.log and replayed on start, so the journal survives
// restarts without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	dataFile string
	entries  map[string]*record
	byHash   map[string]string
	seq      uint64
}

type record struct {
	Entry
	seq uint64
}

// NewMemoryStore creates a store. An empty dataDir disables persistence.
func NewMemoryStore(dataDir string) (*MemoryStore, error) {
	s := &MemoryStore{
		entries: make(map[string]*record),
		byHash:  make(map[string]string),
	}
	if dataDir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	s.dataFile = filepath.Join(dataDir, "journal.log")
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, entry *Entry) error {
	if err := Prepare(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[entry.TxHash]; ok {
		return xerrors.New(xerrors.CodeConflict, "交易已记录", xerrors.WithMetadata("tx_hash", entry.TxHash))
	}
	if err := s.appendLocked(*entry); err != nil {
		return err
	}
	s.insertLocked(*entry)
	return nil
}

// UpdateStatus implements Store.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[id]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "交易记录不存在", xerrors.WithMetadata("id", id))
	}
	updated := current.Entry
	updated.Status = status
	updated.Error = errMsg
	updated.UpdatedAt = time.Now().Unix()
	if err := s.appendLocked(updated); err != nil {
		return err
	}
	current.Entry = updated
	return nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(_ context.Context, venue, userWallet string, action Action) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := s.matchLocked(venue, userWallet, func(e Entry) bool { return e.Action == action })
	if len(matches) == 0 {
		return nil, notFound(venue, userWallet, action)
	}
	latest := matches[0]
	return &latest, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, venue, userWallet string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := s.matchLocked(venue, userWallet, nil)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, venue, userWallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	venue, userWallet = normaliseKeys(venue, userWallet)
	for id, e := range s.entries {
		if e.Venue == venue && e.UserWallet == userWallet {
			tomb := e.Entry
			tomb.Status = statusCleared
			if err := s.appendLocked(tomb); err != nil {
				return err
			}
			delete(s.byHash, e.TxHash)
			delete(s.entries, id)
		}
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) insertLocked(entry Entry) {
	s.seq++
	s.entries[entry.ID] = &record{Entry: entry, seq: s.seq}
	s.byHash[entry.TxHash] = entry.ID
}

// matchLocked returns the matching entries, newest first.
func (s *MemoryStore) matchLocked(venue, userWallet string, keep func(Entry) bool) []Entry {
	venue, userWallet = normaliseKeys(venue, userWallet)
	var matched []*record
	for _, r := range s.entries {
		if r.Venue != venue || r.UserWallet != userWallet {
			continue
		}
		if keep != nil && !keep(r.Entry) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })
	out := make([]Entry, 0, len(matched))
	for _, r := range matched {
		out = append(out, r.Entry)
	}
	return out
}

func normaliseKeys(venue, userWallet string) (string, string) {
	return strings.ToLower(strings.TrimSpace(venue)), NormaliseWallet(userWallet)
}

func (s *MemoryStore) appendLocked(entry Entry) error {
	if s.dataFile == "" {
		return nil
	}
	file, err := os.OpenFile(s.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开交易日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化交易记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入交易日志失败")
	}
	return nil
}

func (s *MemoryStore) loadFromDisk() error {
	file, err := os.Open(s.dataFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取交易日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("解析交易日志第 %d 行失败", line))
		}
		if entry.Status == statusCleared {
			if existing, ok := s.entries[entry.ID]; ok {
				delete(s.byHash, existing.TxHash)
				delete(s.entries, entry.ID)
			}
			continue
		}
		if existing, ok := s.entries[entry.ID]; ok {
			existing.Entry = entry
			continue
		}
		s.insertLocked(entry)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描交易日志失败")
	}
	return nil
}
