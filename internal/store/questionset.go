package store

import "github.com/pavelanni/lexeval/internal/model"

// questionSet is a read-only question index kept in load order.
type questionSet struct {
	ordered []model.Question
	byID    map[int64]int
}

func newQuestionSet(qs []model.Question) questionSet {
	set := questionSet{
		ordered: make([]model.Question, 0, len(qs)),
		byID:    make(map[int64]int, len(qs)),
	}
	for _, q := range qs {
		if _, dup := set.byID[q.ID]; dup {
			continue
		}
		set.byID[q.ID] = len(set.ordered)
		set.ordered = append(set.ordered, cloneQuestion(q))
	}
	return set
}

func (s questionSet) list() []model.Question {
	out := make([]model.Question, len(s.ordered))
	for i, q := range s.ordered {
		out[i] = cloneQuestion(q)
	}
	return out
}

func (s questionSet) get(id int64) *model.Question {
	i, ok := s.byID[id]
	if !ok {
		return nil
	}
	q := cloneQuestion(s.ordered[i])
	return &q
}

func (s questionSet) has(id int64) bool {
	_, ok := s.byID[id]
	return ok
}

// cloneQuestion copies the candidate slice so callers cannot mutate stored questions.
func cloneQuestion(q model.Question) model.Question {
	q.Candidates = append([]model.Candidate(nil), q.Candidates...)
	return q
}
