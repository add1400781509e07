package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/lexeval/internal/handler"
	appI18n "github.com/pavelanni/lexeval/internal/i18n"
	"github.com/pavelanni/lexeval/internal/model"
	"github.com/pavelanni/lexeval/internal/session"
	"github.com/pavelanni/lexeval/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func legalQuestions() []model.Question {
	return []model.Question{
		{
			ID:          1,
			Prompt:      "negligence",
			GroundTruth: "failure to exercise reasonable care",
			Candidates: []model.Candidate{
				{Label: "A", SourceModel: "GRACE", Content: "grace answer"},
				{Label: "B", SourceModel: "LTE", Content: "lte answer"},
				{Label: "C", SourceModel: "MEMIT", Content: "memit answer"},
				{Label: "D", SourceModel: "LoRA", Content: "lora answer"},
				{Label: "E", SourceModel: "ROME", Content: "rome answer"},
			},
		},
		{
			ID:          2,
			Prompt:      "consideration",
			GroundTruth: "something of value exchanged",
			Candidates: []model.Candidate{
				{Label: "A", SourceModel: "GRACE", Content: "grace answer"},
				{Label: "B", SourceModel: "LTE", Content: "lte answer"},
				{Label: "C", SourceModel: "MEMIT", Content: "memit answer"},
				{Label: "D", SourceModel: "LoRA", Content: "lora answer"},
				{Label: "E", SourceModel: "ROME", Content: "rome answer"},
			},
		},
	}
}

func newServer(t *testing.T, s store.Storage) *Client {
	t.Helper()
	h, err := handler.New(s)
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", WithTimeout(5*time.Second))
}

func indexOf(cs []model.Candidate, sourceModel string) int {
	for i, c := range cs {
		if c.SourceModel == sourceModel {
			return i
		}
	}
	return -1
}

func TestEndToEndRating(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(legalQuestions())
	c := newServer(t, s)

	require.NoError(t, c.Health(ctx))

	qs, err := c.ListQuestions(ctx)
	require.NoError(t, err)
	require.Len(t, qs, 2)

	flow := session.New(qs)
	require.NoError(t, flow.Start("u1"))

	// The rater prefers ROME on negligence and MEMIT on consideration,
	// wherever the shuffle put those answers.
	for _, pick := range []string{"ROME", "MEMIT"} {
		i := indexOf(flow.Display(), pick)
		require.GreaterOrEqual(t, i, 0)
		require.NoError(t, flow.Select(i))
		_, err := flow.Submit(ctx, c)
		require.NoError(t, err)
	}
	assert.Equal(t, session.StateComplete, flow.State())

	got, err := c.ListResponses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].QuestionID)
	assert.Equal(t, "ROME", got[0].Evaluation)
	assert.Equal(t, int64(2), got[1].QuestionID)
	assert.Equal(t, "MEMIT", got[1].Evaluation)
	assert.Less(t, got[0].ID, got[1].ID)
	assert.Nil(t, got[0].Comments)
}

func TestGetQuestion(t *testing.T) {
	ctx := context.Background()
	c := newServer(t, store.NewMemory(legalQuestions()))

	q, err := c.GetQuestion(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "consideration", q.Prompt)
	assert.Len(t, q.Candidates, 5)

	_, err = c.GetQuestion(ctx, 42)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Question not found", apiErr.Message)
}

func TestCreateResponseErrors(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(legalQuestions())
	c := newServer(t, s)

	_, err := c.CreateResponse(ctx, model.ResponseInput{UserID: "u1", QuestionID: 77, Evaluation: "ROME"})
	assert.True(t, IsNotFound(err), "got %v", err)

	_, err = c.CreateResponse(ctx, model.ResponseInput{UserID: " ", QuestionID: 1, Evaluation: "ROME"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.NotEmpty(t, apiErr.Details)
	assert.Contains(t, apiErr.Error(), "lexeval api 400")

	all, err := s.AllResponses(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListResponsesEscapesUserID(t *testing.T) {
	ctx := context.Background()
	c := newServer(t, store.NewMemory(legalQuestions()))

	for _, user := range []string{"rater/one", "rater one", "u1"} {
		_, err := c.CreateResponse(ctx, model.ResponseInput{UserID: user, QuestionID: 1, Evaluation: "GRACE"})
		require.NoError(t, err)
	}
	for _, user := range []string{"rater/one", "rater one"} {
		got, err := c.ListResponses(ctx, user)
		require.NoError(t, err)
		require.Len(t, got, 1, user)
		assert.Equal(t, user, got[0].UserID)
	}
}

func TestNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL).ListQuestions(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}
