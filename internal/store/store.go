package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/lexeval/internal/model"
	"github.com/pavelanni/lexeval/internal/questions"
)

var (
	// ErrNotFound means a referenced question does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput means a response input failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCorruptState means persisted data could not be decoded.
	ErrCorruptState = errors.New("corrupt state")
)

// QuestionStore serves the fixed evaluation items.
type QuestionStore interface {
	// ListQuestions returns all questions in a stable order.
	ListQuestions(ctx context.Context) ([]model.Question, error)
	// GetQuestion returns the question with the given ID, or nil if there is none.
	GetQuestion(ctx context.Context, id int64) (*model.Question, error)
}

// ResponseStore appends and queries submitted judgments.
type ResponseStore interface {
	// CreateResponse validates and persists in, returning the stored record.
	CreateResponse(ctx context.Context, in model.ResponseInput) (model.Response, error)
	// ListResponses returns the responses whose user ID equals userID exactly, in storage order.
	ListResponses(ctx context.Context, userID string) ([]model.Response, error)
	// AllResponses returns every stored response in storage order.
	AllResponses(ctx context.Context) ([]model.Response, error)
}

// Storage is everything the request layer needs from a backend.
type Storage interface {
	QuestionStore
	ResponseStore
	Close() error
}

// Open constructs the backend named by cfg and loads the given question files into it.
func Open(ctx context.Context, cfg model.StoreConfig, files []questions.File) (Storage, error) {
	switch cfg.Backend {
	case model.BackendMemory, "":
		return NewMemory(questions.Flatten(files)), nil
	case model.BackendFile:
		return NewFile(cfg.DataDir, questions.Flatten(files), FileOptions{
			StrictRead: cfg.StrictRead,
			Fsync:      cfg.Fsync,
		})
	case model.BackendSQLite, model.BackendPostgres:
		s, err := OpenSQL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if err := s.ImportQuestionFile(ctx, f); err != nil {
				s.Close()
				return nil, fmt.Errorf("import %s: %w", f.Path, err)
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// checkInput rejects inputs that must never reach a backend.
func checkInput(in model.ResponseInput) error {
	if problems := in.Problems(); len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInput, problems)
	}
	return nil
}

func logCreated(backend model.Backend, r model.Response) {
	slog.Debug("stored response",
		"backend", backend,
		"id", r.ID,
		"user_id", r.UserID,
		"question_id", r.QuestionID,
	)
}
