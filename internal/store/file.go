package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pavelanni/lexeval/internal/model"
)

// ResponsesFileName is the JSONL file the file backend appends to.
const ResponsesFileName = "responses.jsonl"

const maxLineSize = 1 << 20

// FileOptions tune the file backend.
type FileOptions struct {
	// StrictRead fails reads on a malformed line instead of skipping it.
	StrictRead bool
	// Fsync flushes the file to stable storage after every append.
	Fsync bool
}

// FileStore appends one JSON record per line to a file in its data directory.
// Reads scan the whole file; no index is kept.
type FileStore struct {
	questions questionSet
	path      string
	opts      FileOptions

	mu     sync.Mutex
	f      *os.File
	size   int64 // end of the last complete record
	nextID int64
}

// NewFile opens (creating if needed) the responses file under dir. The ID
// counter resumes after the largest ID already on disk.
func NewFile(dir string, qs []model.Question, opts FileOptions) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file backend requires a data directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, ResponsesFileName)

	if err := trimTornTail(path); err != nil {
		return nil, err
	}
	existing, err := readResponses(path, opts.StrictRead)
	if err != nil {
		return nil, err
	}
	var last int64
	for _, r := range existing {
		last = max(last, r.ID)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open responses file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat responses file: %w", err)
	}

	slog.Info("opened responses file", "path", path, "records", len(existing), "next_id", last+1)
	return &FileStore{
		questions: newQuestionSet(qs),
		path:      path,
		opts:      opts,
		f:         f,
		size:      info.Size(),
		nextID:    last + 1,
	}, nil
}

func (s *FileStore) ListQuestions(_ context.Context) ([]model.Question, error) {
	return s.questions.list(), nil
}

func (s *FileStore) GetQuestion(_ context.Context, id int64) (*model.Question, error) {
	return s.questions.get(id), nil
}

func (s *FileStore) CreateResponse(_ context.Context, in model.ResponseInput) (model.Response, error) {
	if err := checkInput(in); err != nil {
		return model.Response{}, err
	}
	if !s.questions.has(in.QuestionID) {
		return model.Response{}, fmt.Errorf("question %d: %w", in.QuestionID, ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The ID is consumed even if the write below fails.
	r := newResponse(s.nextID, in, time.Now().UTC())
	s.nextID++

	line, err := json.Marshal(r)
	if err != nil {
		return model.Response{}, fmt.Errorf("encode response: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		s.rollback()
		return model.Response{}, fmt.Errorf("append response: %w", err)
	}
	if s.opts.Fsync {
		if err := s.f.Sync(); err != nil {
			s.rollback()
			return model.Response{}, fmt.Errorf("sync responses file: %w", err)
		}
	}
	s.size += int64(len(line))

	logCreated(model.BackendFile, r)
	return r, nil
}

// rollback drops whatever part of an unacknowledged record reached the file.
// Callers hold s.mu.
func (s *FileStore) rollback() {
	if err := s.f.Truncate(s.size); err != nil {
		slog.Error("truncate after failed append", "path", s.path, "size", s.size, "error", err)
	}
}

func (s *FileStore) ListResponses(_ context.Context, userID string) ([]model.Response, error) {
	all, err := s.read()
	if err != nil {
		return nil, err
	}
	return filterByUser(all, userID), nil
}

func (s *FileStore) AllResponses(_ context.Context) ([]model.Response, error) {
	all, err := s.read()
	if err != nil {
		return nil, err
	}
	if all == nil {
		all = []model.Response{}
	}
	return all, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// read holds the write lock so a scan never observes a half-written line.
func (s *FileStore) read() ([]model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readResponses(s.path, s.opts.StrictRead)
}

// trimTornTail cuts a partial last line left by an interrupted append, so the
// next record starts on its own line. A record is only acknowledged after its
// newline is written, so the cut never drops an acknowledged record.
func trimTornTail(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open responses file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat responses file: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	buf := make([]byte, 4096)
	end := size
	for end > 0 {
		start := max(end-int64(len(buf)), 0)
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil {
			return fmt.Errorf("read responses file: %w", err)
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			end = start + int64(i) + 1
			break
		}
		end = start
	}
	if end == size {
		return nil
	}

	slog.Warn("truncating partial record at end of responses file",
		"path", path, "offset", end, "dropped_bytes", size-end)
	if err := f.Truncate(end); err != nil {
		return fmt.Errorf("truncate responses file: %w", err)
	}
	return f.Sync()
}

// readResponses decodes every line of path. A missing file holds no records.
func readResponses(path string, strict bool) ([]model.Response, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open responses file: %w", err)
	}
	defer f.Close()

	var out []model.Response
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r model.Response
		if err := json.Unmarshal(line, &r); err != nil {
			if strict {
				return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorruptState, filepath.Base(path), lineNo, err)
			}
			slog.Warn("skipping malformed response line", "path", path, "line", lineNo, "error", err)
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan responses file: %w", err)
	}
	return out, nil
}
