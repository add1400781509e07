package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/lexeval/internal/model"
)

// Export builds export-ready results from every stored response. Responses
// that reference a question the store no longer serves keep an empty prompt.
func Export(ctx context.Context, s Storage) ([]model.ResponseResult, int, error) {
	qs, err := s.ListQuestions(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list questions: %w", err)
	}
	byID := make(map[int64]model.Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}

	responses, err := s.AllResponses(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list responses: %w", err)
	}

	results := make([]model.ResponseResult, 0, len(responses))
	for _, r := range responses {
		q := byID[r.QuestionID]
		results = append(results, model.ResponseResult{
			ID:          r.ID,
			UserID:      r.UserID,
			QuestionID:  r.QuestionID,
			Prompt:      q.Prompt,
			Evaluation:  r.Evaluation,
			Selected:    selectedContent(q, r.Evaluation),
			Comments:    r.Comments,
			SubmittedAt: r.CreatedAt,
		})
	}
	return results, len(qs), nil
}

// selectedContent finds the candidate text a judgment refers to, if any.
func selectedContent(q model.Question, judgment string) string {
	for _, c := range q.Candidates {
		if c.Judgment() == judgment {
			return c.Content
		}
	}
	return ""
}
