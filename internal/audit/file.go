package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligun0805/mempool-searcher/internal/domain"
	"github.com/ligun0805/mempool-searcher/internal/jsonl"
)

// FileStore appends records to a JSONL file.
type FileStore struct {
	mu   sync.Mutex
	f    *jsonl.File
	path string
	ids  map[uuid.UUID]struct{}
}

var _ Store = (*FileStore)(nil)

// NewFileStore indexes the ids already in path so duplicates are refused across restarts.
func NewFileStore(path string) (*FileStore, error) {
	f := jsonl.Open(path)
	if f == nil {
		return nil, errors.New("audit: empty file path")
	}
	s := &FileStore{f: f, path: f.Path(), ids: map[uuid.UUID]struct{}{}}
	err := jsonl.Replay(s.path, func(r Record) error {
		s.ids[r.ID] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Append(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[r.ID]; ok {
		return ErrDuplicateKey
	}
	if err := s.f.Append(r); err != nil {
		return err
	}
	s.ids[r.ID] = struct{}{}
	return nil
}

func (s *FileStore) Submitted(_ context.Context, since time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	err := jsonl.Replay(s.path, func(r Record) error {
		if r.Status == domain.Submitted.String() && !r.At.Before(since) {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (s *FileStore) Close() error {
	return s.f.Close()
}
