package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/lexeval/internal/model"
)

func fiveMethods() []model.Candidate {
	return []model.Candidate{
		{Label: "A", SourceModel: "GRACE", Content: "g"},
		{Label: "B", SourceModel: "LTE", Content: "l"},
		{Label: "C", SourceModel: "MEMIT", Content: "m"},
		{Label: "D", SourceModel: "LoRA", Content: "o"},
		{Label: "E", SourceModel: "ROME", Content: "r"},
	}
}

func testQuestions() []model.Question {
	return []model.Question{
		{ID: 1, Prompt: "negligence", Candidates: fiveMethods()},
		{ID: 2, Prompt: "consideration", Candidates: fiveMethods()},
	}
}

func seeded(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// recorder is a Submitter that stores every input and can be told to fail.
type recorder struct {
	got  []model.ResponseInput
	fail error
}

func (r *recorder) CreateResponse(_ context.Context, in model.ResponseInput) (model.Response, error) {
	if r.fail != nil {
		return model.Response{}, r.fail
	}
	r.got = append(r.got, in)
	return model.Response{ID: int64(len(r.got)), UserID: in.UserID, QuestionID: in.QuestionID, Evaluation: in.Evaluation}, nil
}

func labels(cs []model.Candidate) string {
	var b strings.Builder
	for _, c := range cs {
		b.WriteString(c.Label)
	}
	return b.String()
}

func TestShuffleIsPermutation(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	in := fiveMethods()
	before := slices.Clone(in)

	for range 200 {
		out := Shuffle(r, in)
		require.Len(t, out, len(in))
		assert.ElementsMatch(t, in, out)
	}
	assert.Equal(t, before, in, "input must not be modified")
}

func TestShuffleUniform(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))
	in := fiveMethods()[:3]

	const trials = 60000
	counts := map[string]int{}
	for range trials {
		counts[labels(Shuffle(r, in))]++
	}

	require.Len(t, counts, 6, "every permutation of 3 items must appear")
	expected := float64(trials) / 6
	for perm, n := range counts {
		dev := (float64(n) - expected) / expected
		assert.Less(t, dev, 0.05, "permutation %s over-represented: %d", perm, n)
		assert.Greater(t, dev, -0.05, "permutation %s under-represented: %d", perm, n)
	}
}

func TestShuffleEdgeSizes(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	assert.Empty(t, Shuffle(r, nil))
	one := fiveMethods()[:1]
	assert.Equal(t, one, Shuffle(r, one))
}

func TestStartRequiresIdentity(t *testing.T) {
	c := New(testQuestions())

	for _, id := range []string{"", "   ", "\t"} {
		err := c.Start(id)
		assert.ErrorIs(t, err, ErrNoIdentity)
		assert.Equal(t, StateIdentity, c.State())
		assert.Nil(t, c.Question())
	}

	require.NoError(t, c.Start(" u1 "))
	assert.Equal(t, StateQuestion, c.State())
	assert.Equal(t, " u1 ", c.UserID(), "the ID is recorded verbatim")
	assert.Equal(t, 0, c.Index())
	assert.Equal(t, -1, c.Selected())
	assert.Len(t, c.Display(), 5)
}

func TestPreparedUserIDMatchesListing(t *testing.T) {
	c := New(testQuestions())
	require.NoError(t, c.Start("Rater 7 "))
	require.NoError(t, c.Select(0))
	in, err := c.Prepare()
	require.NoError(t, err)
	assert.Equal(t, "Rater 7 ", in.UserID)
}

func TestStartWithoutQuestions(t *testing.T) {
	c := New(nil)
	assert.ErrorIs(t, c.Start("u1"), ErrNoQuestions)
	assert.Equal(t, StateIdentity, c.State())
}

func TestSubmitRequiresSelection(t *testing.T) {
	c := New(testQuestions())
	require.NoError(t, c.Start("u1"))

	rec := &recorder{}
	_, err := c.Submit(context.Background(), rec)
	assert.ErrorIs(t, err, ErrNoSelection)
	assert.Empty(t, rec.got)
	assert.Equal(t, 0, c.Index())
}

func TestSelectDoesNotAdvance(t *testing.T) {
	c := New(testQuestions())
	require.NoError(t, c.Start("u1"))

	require.NoError(t, c.Select(3))
	require.NoError(t, c.Select(1))
	assert.Equal(t, 1, c.Selected())
	assert.Equal(t, 0, c.Index())
	assert.Error(t, c.Select(5))
	assert.Error(t, c.Select(-1))
	assert.Equal(t, 1, c.Selected())
}

func TestSelectOutsideQuestion(t *testing.T) {
	c := New(testQuestions())
	assert.ErrorIs(t, c.Select(0), ErrWrongState)
	_, err := c.Prepare()
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestPrepareTranslatesDisplayPosition(t *testing.T) {
	for seed := range uint64(20) {
		c := New(testQuestions(), seeded(seed))
		require.NoError(t, c.Start("u1"))

		for i, shown := range c.Display() {
			require.NoError(t, c.Select(i))
			in, err := c.Prepare()
			require.NoError(t, err)
			assert.Equal(t, shown.SourceModel, in.Evaluation)
			assert.Equal(t, int64(1), in.QuestionID)
		}
	}
}

func TestPrepareFallsBackToLabel(t *testing.T) {
	qs := []model.Question{{ID: 9, Prompt: "p", Candidates: []model.Candidate{{Label: "better"}}}}
	c := New(qs)
	require.NoError(t, c.Start("u1"))
	require.NoError(t, c.Select(0))
	in, err := c.Prepare()
	require.NoError(t, err)
	assert.Equal(t, "better", in.Evaluation)
	assert.Nil(t, in.Comments)
}

func TestFullFlow(t *testing.T) {
	c := New(testQuestions(), seeded(11))
	rec := &recorder{}
	ctx := context.Background()

	require.NoError(t, c.Start("u1"))
	assert.InDelta(t, 0.5, c.Progress(), 1e-9)

	require.NoError(t, c.Select(0))
	c.SetComment("  looks right ")
	want1 := c.Display()[0].SourceModel
	_, err := c.Submit(ctx, rec)
	require.NoError(t, err)

	assert.Equal(t, StateQuestion, c.State())
	assert.Equal(t, 1, c.Index())
	assert.Equal(t, -1, c.Selected(), "selection resets on the next question")
	assert.Empty(t, c.Comment())
	assert.InDelta(t, 1.0, c.Progress(), 1e-9)
	assert.Equal(t, "consideration", c.Question().Prompt)

	require.NoError(t, c.Select(4))
	want2 := c.Display()[4].SourceModel
	_, err = c.Submit(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, c.State())

	require.Len(t, rec.got, 2)
	assert.Equal(t, model.ResponseInput{UserID: "u1", QuestionID: 1, Evaluation: want1, Comments: rec.got[0].Comments}, rec.got[0])
	require.NotNil(t, rec.got[0].Comments)
	assert.Equal(t, "looks right", *rec.got[0].Comments)
	assert.Equal(t, int64(2), rec.got[1].QuestionID)
	assert.Equal(t, want2, rec.got[1].Evaluation)

	c.Reset()
	assert.Equal(t, StateIdentity, c.State())
	assert.Empty(t, c.UserID())
	assert.Zero(t, c.Progress())
}

func TestSubmitFailureStaysOnQuestion(t *testing.T) {
	c := New(testQuestions())
	require.NoError(t, c.Start("u1"))
	require.NoError(t, c.Select(2))

	boom := errors.New("connection refused")
	rec := &recorder{fail: boom}
	_, err := c.Submit(context.Background(), rec)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateQuestion, c.State())
	assert.Equal(t, 0, c.Index())
	assert.Equal(t, 2, c.Selected())
	assert.ErrorIs(t, c.Err(), boom)

	// Manual resubmission succeeds and clears the error.
	rec.fail = nil
	_, err = c.Submit(context.Background(), rec)
	require.NoError(t, err)
	assert.NoError(t, c.Err())
	assert.Equal(t, 1, c.Index())
}

func TestReenteringReshuffles(t *testing.T) {
	c := New(testQuestions(), seeded(5))
	seen := map[string]bool{}
	for range 50 {
		require.NoError(t, c.Start("u1"))
		seen[labels(c.Display())] = true
		c.Reset()
	}
	assert.Greater(t, len(seen), 1, "each entry must draw a fresh order")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "identity", StateIdentity.String())
	assert.Equal(t, "question", StateQuestion.String())
	assert.Equal(t, "complete", StateComplete.String())
	assert.Equal(t, "State(9)", State(9).String())
}
