// Package session drives one rater through the question set: identity
// capture, one shuffled question at a time, and completion.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/pavelanni/lexeval/internal/model"
)

var (
	// ErrNoIdentity means Start was called without a usable user ID.
	ErrNoIdentity = errors.New("user ID is required")
	// ErrNoQuestions means there is nothing to evaluate.
	ErrNoQuestions = errors.New("no questions available")
	// ErrNoSelection means a submit was attempted before an answer was picked.
	ErrNoSelection = errors.New("no answer selected")
	// ErrWrongState means the operation is not valid in the current state.
	ErrWrongState = errors.New("operation not valid in current state")
)

// State is a flow controller state.
type State int

const (
	StateIdentity State = iota
	StateQuestion
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdentity:
		return "identity"
	case StateQuestion:
		return "question"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Submitter persists one response. *client.Client satisfies it.
type Submitter interface {
	CreateResponse(ctx context.Context, in model.ResponseInput) (model.Response, error)
}

// Controller is the rater flow state machine. It is not safe for concurrent use.
type Controller struct {
	questions []model.Question
	rng       *rand.Rand

	state    State
	userID   string
	index    int
	display  []model.Candidate
	selected int
	comment  string
	err      error
}

// Option configures a Controller.
type Option func(*Controller)

// WithRand sets the random source used for answer shuffling.
func WithRand(r *rand.Rand) Option {
	return func(c *Controller) { c.rng = r }
}

// New returns a controller in the identity state over qs.
func New(qs []model.Question, opts ...Option) *Controller {
	c := &Controller{
		questions: qs,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		selected:  -1,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins a session for userID at the first question. The ID is kept
// exactly as given; one with no visible characters is refused.
func (c *Controller) Start(userID string) error {
	if strings.TrimSpace(userID) == "" {
		c.Reset()
		return ErrNoIdentity
	}
	if len(c.questions) == 0 {
		c.Reset()
		return ErrNoQuestions
	}
	c.userID = userID
	c.state = StateQuestion
	c.enter(0)
	return nil
}

// enter loads question i with a fresh display order and an empty selection.
func (c *Controller) enter(i int) {
	c.index = i
	c.display = Shuffle(c.rng, c.questions[i].Candidates)
	c.selected = -1
	c.comment = ""
	c.err = nil
}

// Select picks display entry i. It does not advance.
func (c *Controller) Select(i int) error {
	if c.state != StateQuestion {
		return ErrWrongState
	}
	if i < 0 || i >= len(c.display) {
		return fmt.Errorf("answer %d out of range [0,%d)", i, len(c.display))
	}
	c.selected = i
	return nil
}

// SetComment replaces the in-progress comment.
func (c *Controller) SetComment(s string) {
	c.comment = s
}

// Prepare builds the response for the current selection. The evaluation is
// the selected candidate's judgment value, never its display position.
func (c *Controller) Prepare() (model.ResponseInput, error) {
	if c.state != StateQuestion {
		return model.ResponseInput{}, ErrWrongState
	}
	if c.selected < 0 {
		return model.ResponseInput{}, ErrNoSelection
	}
	in := model.ResponseInput{
		UserID:     c.userID,
		QuestionID: c.questions[c.index].ID,
		Evaluation: c.display[c.selected].Judgment(),
	}
	if comment := strings.TrimSpace(c.comment); comment != "" {
		in.Comments = &comment
	}
	return in, nil
}

// Complete records a successful submission and moves to the next question,
// or to StateComplete after the last one.
func (c *Controller) Complete() {
	if c.state != StateQuestion {
		return
	}
	if c.index+1 < len(c.questions) {
		c.enter(c.index + 1)
		return
	}
	c.state = StateComplete
	c.display = nil
	c.selected = -1
	c.comment = ""
	c.err = nil
}

// Fail records a failed submission. The controller stays on the current
// question with its selection intact.
func (c *Controller) Fail(err error) {
	c.err = err
}

// Submit prepares, sends, and applies the outcome of one submission.
func (c *Controller) Submit(ctx context.Context, s Submitter) (model.Response, error) {
	in, err := c.Prepare()
	if err != nil {
		return model.Response{}, err
	}
	resp, err := s.CreateResponse(ctx, in)
	if err != nil {
		c.Fail(err)
		return model.Response{}, err
	}
	c.Complete()
	return resp, nil
}

// Reset returns to identity capture, forgetting the user and position.
func (c *Controller) Reset() {
	c.state = StateIdentity
	c.userID = ""
	c.index = 0
	c.display = nil
	c.selected = -1
	c.comment = ""
	c.err = nil
}

// Progress returns (index+1)/total while a question is shown, 1 when
// complete, and 0 otherwise.
func (c *Controller) Progress() float64 {
	switch {
	case c.state == StateComplete:
		return 1
	case c.state != StateQuestion || len(c.questions) == 0:
		return 0
	}
	return float64(c.index+1) / float64(len(c.questions))
}

func (c *Controller) State() State { return c.state }
func (c *Controller) UserID() string { return c.userID }
func (c *Controller) Index() int { return c.index }
func (c *Controller) Total() int { return len(c.questions) }
func (c *Controller) Selected() int { return c.selected }
func (c *Controller) Comment() string { return c.comment }
func (c *Controller) Err() error { return c.err }
func (c *Controller) Display() []model.Candidate { return c.display }

// Question returns the current question, or nil outside StateQuestion.
func (c *Controller) Question() *model.Question {
	if c.state != StateQuestion {
		return nil
	}
	return &c.questions[c.index]
}

// Shuffle returns a uniformly random permutation of cs using the
// Fisher-Yates algorithm. cs is not modified.
func Shuffle(r *rand.Rand, cs []model.Candidate) []model.Candidate {
	out := append([]model.Candidate(nil), cs...)
	for i := len(out) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
