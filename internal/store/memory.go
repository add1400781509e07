package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pavelanni/lexeval/internal/model"
)

// MemoryStore keeps responses in process memory. Nothing survives a restart.
type MemoryStore struct {
	questions questionSet

	mu        sync.Mutex
	nextID    int64
	responses []model.Response
}

// NewMemory returns an empty response store serving qs.
func NewMemory(qs []model.Question) *MemoryStore {
	return &MemoryStore{
		questions: newQuestionSet(qs),
		nextID:    1,
	}
}

func (m *MemoryStore) ListQuestions(_ context.Context) ([]model.Question, error) {
	return m.questions.list(), nil
}

func (m *MemoryStore) GetQuestion(_ context.Context, id int64) (*model.Question, error) {
	return m.questions.get(id), nil
}

func (m *MemoryStore) CreateResponse(_ context.Context, in model.ResponseInput) (model.Response, error) {
	if err := checkInput(in); err != nil {
		return model.Response{}, err
	}
	if !m.questions.has(in.QuestionID) {
		return model.Response{}, fmt.Errorf("question %d: %w", in.QuestionID, ErrNotFound)
	}

	m.mu.Lock()
	r := newResponse(m.nextID, in, time.Now().UTC())
	m.nextID++
	m.responses = append(m.responses, r)
	m.mu.Unlock()

	logCreated(model.BackendMemory, r)
	return r, nil
}

func (m *MemoryStore) ListResponses(_ context.Context, userID string) ([]model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterByUser(m.responses, userID), nil
}

func (m *MemoryStore) AllResponses(_ context.Context) ([]model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Response{}, m.responses...), nil
}

func (m *MemoryStore) Close() error { return nil }

// newResponse builds the stored form of in. The comment is copied so the
// record never aliases caller memory.
func newResponse(id int64, in model.ResponseInput, at time.Time) model.Response {
	r := model.Response{
		ID:         id,
		UserID:     in.UserID,
		QuestionID: in.QuestionID,
		Evaluation: in.Evaluation,
		CreatedAt:  at,
	}
	if in.Comments != nil {
		c := *in.Comments
		r.Comments = &c
	}
	return r
}

func filterByUser(rs []model.Response, userID string) []model.Response {
	out := []model.Response{}
	for _, r := range rs {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}
