package tui

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appI18n "github.com/pavelanni/lexeval/internal/i18n"
	"github.com/pavelanni/lexeval/internal/model"
	"github.com/pavelanni/lexeval/internal/session"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeAPI struct {
	questions []model.Question
	listErr   error
	submitErr error
	got       []model.ResponseInput
}

func (f *fakeAPI) ListQuestions(context.Context) ([]model.Question, error) {
	return f.questions, f.listErr
}

func (f *fakeAPI) CreateResponse(_ context.Context, in model.ResponseInput) (model.Response, error) {
	if f.submitErr != nil {
		return model.Response{}, f.submitErr
	}
	f.got = append(f.got, in)
	return model.Response{ID: int64(len(f.got)), UserID: in.UserID, QuestionID: in.QuestionID, Evaluation: in.Evaluation}, nil
}

func twoQuestions() []model.Question {
	return []model.Question{
		{ID: 1, Prompt: "negligence", GroundTruth: "duty, breach, harm", Candidates: []model.Candidate{
			{Label: "A", SourceModel: "GRACE", Content: "grace says"},
			{Label: "B", SourceModel: "ROME", Content: "rome says"},
			{Label: "C", SourceModel: "LoRA", Content: "lora says"},
		}},
		{ID: 2, Prompt: "consideration", Candidates: []model.Candidate{
			{Label: "A", SourceModel: "MEMIT", Content: "memit says"},
			{Label: "B", SourceModel: "LTE", Content: "lte says"},
		}},
	}
}

func newTestModel(t *testing.T, api *fakeAPI, opts ...Option) Model {
	t.Helper()
	ctx := appI18n.ForLanguage(context.Background(), "en")
	opts = append(opts, WithSessionOptions(session.WithRand(rand.New(rand.NewPCG(1, 1)))))
	m := New(ctx, api, opts...)
	return send(t, m, m.Init()())
}

func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

// press sends msg and runs the returned command if it produces one of this
// package's messages.
func press(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil || !m.submitting {
		return m
	}
	return send(t, m, cmd())
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	return send(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

var (
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	tab   = tea.KeyMsg{Type: tea.KeyTab}
	down  = tea.KeyMsg{Type: tea.KeyDown}
)

func digit(n int) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{rune('0' + n)}}
}

func TestIdentityRequired(t *testing.T) {
	m := newTestModel(t, &fakeAPI{questions: twoQuestions()})
	assert.Contains(t, m.View(), "2 questions available.")

	m = send(t, m, enter)
	assert.Equal(t, session.StateIdentity, m.flow.State())
	assert.Equal(t, "Please enter a user ID", m.status)

	m = typeText(t, m, "   ")
	m = send(t, m, enter)
	assert.Equal(t, session.StateIdentity, m.flow.State())
}

func TestFullRatingFlow(t *testing.T) {
	api := &fakeAPI{questions: twoQuestions()}
	m := newTestModel(t, api)

	m = typeText(t, m, "u1")
	m = send(t, m, enter)
	require.Equal(t, session.StateQuestion, m.flow.State())
	view := m.View()
	assert.Contains(t, view, "Question 1 of 2")
	assert.Contains(t, view, "negligence")
	assert.Contains(t, view, "duty, breach, harm")
	assert.NotContains(t, view, "ROME", "source models stay hidden")

	// Submitting without a selection is refused.
	m = press(t, m, enter)
	assert.Equal(t, "Select an answer before submitting", m.status)
	assert.Empty(t, api.got)

	m = send(t, m, digit(2))
	assert.Equal(t, 1, m.flow.Selected())
	want := m.flow.Display()[1].SourceModel

	m = send(t, m, tab)
	m = typeText(t, m, "solid")
	m = press(t, m, enter)

	require.Len(t, api.got, 1)
	assert.Equal(t, "u1", api.got[0].UserID)
	assert.Equal(t, int64(1), api.got[0].QuestionID)
	assert.Equal(t, want, api.got[0].Evaluation)
	require.NotNil(t, api.got[0].Comments)
	assert.Equal(t, "solid", *api.got[0].Comments)

	assert.Equal(t, 1, m.flow.Index())
	assert.Contains(t, m.View(), "Question 2 of 2")
	assert.Empty(t, m.commentInput.Value())

	m = send(t, m, down)
	m = press(t, m, enter)
	require.Len(t, api.got, 2)
	assert.Equal(t, int64(2), api.got[1].QuestionID)
	assert.Nil(t, api.got[1].Comments)

	assert.Equal(t, session.StateComplete, m.flow.State())
	assert.Contains(t, m.View(), "Evaluation Complete")

	m = send(t, m, enter)
	assert.Equal(t, session.StateIdentity, m.flow.State())
	assert.Empty(t, m.userInput.Value())
}

func TestSubmitFailureKeepsQuestion(t *testing.T) {
	api := &fakeAPI{questions: twoQuestions(), submitErr: errors.New("connection refused")}
	m := newTestModel(t, api, WithUser("u1"))
	require.Equal(t, session.StateQuestion, m.flow.State())

	m = send(t, m, digit(1))
	m = press(t, m, enter)
	assert.Equal(t, session.StateQuestion, m.flow.State())
	assert.Equal(t, 0, m.flow.Index())
	assert.Equal(t, 0, m.flow.Selected())
	assert.True(t, strings.HasPrefix(m.status, "Submission failed:"), m.status)
	assert.False(t, m.submitting)

	api.submitErr = nil
	m = press(t, m, enter)
	assert.Equal(t, 1, m.flow.Index())
	assert.Empty(t, m.status)
}

func TestLoadFailure(t *testing.T) {
	m := newTestModel(t, &fakeAPI{listErr: errors.New("dial tcp: refused")})
	assert.Contains(t, m.status, "Could not load questions")

	m = typeText(t, m, "u1")
	m = send(t, m, enter)
	assert.Equal(t, session.StateIdentity, m.flow.State())
}

func TestNoQuestions(t *testing.T) {
	m := newTestModel(t, &fakeAPI{})
	m = typeText(t, m, "u1")
	m = send(t, m, enter)
	assert.Equal(t, session.StateIdentity, m.flow.State())
	assert.Equal(t, "No questions are available.", m.status)
}

func TestDigitOutOfRangeIgnored(t *testing.T) {
	m := newTestModel(t, &fakeAPI{questions: twoQuestions()}, WithUser("u1"))
	m = send(t, m, digit(9))
	assert.Equal(t, -1, m.flow.Selected())
}

func TestCtrlCQuits(t *testing.T) {
	m := newTestModel(t, &fakeAPI{questions: twoQuestions()})
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, next.(Model).View())
}

func TestPresetUserKeptVerbatim(t *testing.T) {
	api := &fakeAPI{questions: twoQuestions()}
	m := newTestModel(t, api, WithUser("Rater 7 "))
	require.Equal(t, session.StateQuestion, m.flow.State())

	m = send(t, m, digit(1))
	m = press(t, m, enter)
	require.Len(t, api.got, 1)
	assert.Equal(t, "Rater 7 ", api.got[0].UserID)
}

func TestBlankPresetUserIgnored(t *testing.T) {
	m := newTestModel(t, &fakeAPI{questions: twoQuestions()}, WithUser("   "))
	assert.Equal(t, session.StateIdentity, m.flow.State())
	assert.Empty(t, m.userInput.Value())
	assert.Empty(t, m.status)
}
