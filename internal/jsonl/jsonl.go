// Package jsonl appends and replays newline-delimited JSON records.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File is an append-only JSONL file, opened lazily. It is safe for concurrent use.
type File struct {
	mu   sync.Mutex
	path string
	f    *os.File
	buf  *bufio.Writer
}

// Open returns a File for path, or nil when path is blank.
func Open(path string) *File {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &File{path: path}
}

func (w *File) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

func (w *File) openLocked() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if err := trimTornTail(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("jsonl: %s: %w", w.path, err)
	}
	w.f = f
	w.buf = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// trimTornTail truncates an unterminated last line left by an interrupted
// write, so the next record starts on a line of its own.
func trimTornTail(f *os.File) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()
	if size == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	const chunk = 4096
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := max(end-chunk, 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return f.Truncate(start + int64(i) + 1)
		}
		end = start
	}
	return f.Truncate(0)
}

// Append writes v as one line and flushes it so tailers see whole records.
func (w *File) Append(v any) error {
	if w == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonl: %w", err)
	}
	b = append(b, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.openLocked(); err != nil {
		return err
	}
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Replay decodes every record of path in order. A missing file has no
// records; a torn last line from a crash is ignored.
func Replay[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for line := 1; ; line++ {
		b, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// Unterminated tail: only a partial write can produce it.
			return nil
		}
		if err != nil {
			return err
		}
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(b, &rec); err != nil {
			return fmt.Errorf("jsonl: %s:%d: %w", path, line, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func (w *File) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.f.Close(); err == nil && !errors.Is(cerr, os.ErrClosed) {
		err = cerr
	}
	w.f, w.buf = nil, nil
	return err
}
