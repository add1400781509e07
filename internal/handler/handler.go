package handler

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/santhosh-tekuri/jsonschema/v5"

	appI18n "github.com/pavelanni/lexeval/internal/i18n"
	"github.com/pavelanni/lexeval/internal/model"
	"github.com/pavelanni/lexeval/internal/store"
)

const maxBodyBytes = 64 << 10

//go:embed schema/response.schema.json
var responseSchema string

const responseSchemaURL = "https://lexeval.local/schema/response.schema.json"

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  store.Storage
	schema *jsonschema.Schema
}

// New creates a new Handler.
func New(s store.Storage) (*Handler, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(responseSchemaURL, strings.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("load response schema: %w", err)
	}
	compiled, err := c.Compile(responseSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}
	return &Handler{store: s, schema: compiled}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/questions", h.handleListQuestions)
		r.Get("/questions/{id}", h.handleGetQuestion)
		r.Get("/responses", h.handleAllResponses)
		r.Get("/responses/{userID}", h.handleListResponses)
		r.Post("/responses", h.handleCreateResponse)

		// Older clients post to /evaluations.
		r.Get("/evaluations", h.handleAllResponses)
		r.Post("/evaluations", h.handleCreateResponse)
	})
}

// errorBody is the JSON shape of every non-2xx API response.
type errorBody struct {
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, msgID string, details ...string) {
	writeJSON(w, status, errorBody{
		Message: appI18n.T(r.Context(), msgID),
		Details: details,
	})
}

// internalError logs the cause and answers with a generic message.
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, what string, err error) {
	slog.Error(what, "error", err, "request_id", middleware.GetReqID(r.Context()))
	h.fail(w, r, http.StatusInternalServerError, "ErrInternal")
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.store.ListQuestions(r.Context())
	if err != nil {
		h.internalError(w, r, "list questions failed", err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "ErrInvalidQuestionID")
		return
	}

	q, err := h.store.GetQuestion(r.Context(), id)
	if err != nil {
		h.internalError(w, r, "get question failed", err)
		return
	}
	if q == nil {
		h.fail(w, r, http.StatusNotFound, "ErrQuestionNotFound")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleListResponses(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if r.URL.RawPath != "" {
		// chi matched against the escaped path, so the parameter is still escaped.
		unescaped, err := url.PathUnescape(userID)
		if err != nil {
			h.fail(w, r, http.StatusBadRequest, "ErrMalformedRequest")
			return
		}
		userID = unescaped
	}

	responses, err := h.store.ListResponses(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, "list responses failed", err)
		return
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *Handler) handleAllResponses(w http.ResponseWriter, r *http.Request) {
	responses, err := h.store.AllResponses(r.Context())
	if err != nil {
		h.internalError(w, r, "list all responses failed", err)
		return
	}
	writeJSON(w, http.StatusOK, responses)
}

func (h *Handler) handleCreateResponse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, http.StatusRequestEntityTooLarge, "ErrBodyTooLarge")
			return
		}
		h.fail(w, r, http.StatusBadRequest, "ErrMalformedRequest")
		return
	}

	in, problems, err := h.decodeResponseInput(body)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, "ErrMalformedRequest", err.Error())
		return
	}
	if len(problems) > 0 {
		h.fail(w, r, http.StatusBadRequest, "ErrInvalidResponse", problems...)
		return
	}

	resp, err := h.store.CreateResponse(r.Context(), in)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.fail(w, r, http.StatusNotFound, "ErrQuestionNotFound")
		return
	case errors.Is(err, store.ErrInvalidInput):
		h.fail(w, r, http.StatusBadRequest, "ErrInvalidResponse", in.Problems()...)
		return
	case err != nil:
		h.internalError(w, r, "create response failed", err)
		return
	}

	slog.Info("response recorded",
		"id", resp.ID,
		"user_id", resp.UserID,
		"question_id", resp.QuestionID,
	)
	writeJSON(w, http.StatusOK, resp)
}

// decodeResponseInput validates body against the response schema and decodes it.
// A non-nil error means the body is not JSON at all; problems lists schema violations.
func (h *Handler) decodeResponseInput(body []byte) (model.ResponseInput, []string, error) {
	var in model.ResponseInput

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return in, nil, fmt.Errorf("body is not valid JSON: %w", err)
	}
	if dec.More() {
		return in, nil, errors.New("body has data after the JSON value")
	}
	if err := h.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return in, nil, err
		}
		return in, schemaProblems(ve), nil
	}

	if err := json.Unmarshal(body, &in); err != nil {
		return in, []string{err.Error()}, nil
	}
	return in, in.Problems(), nil
}

func schemaProblems(ve *jsonschema.ValidationError) []string {
	var out []string
	for _, e := range ve.BasicOutput().Errors {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out = append(out, loc+": "+e.Error)
	}
	if len(out) == 0 {
		out = append(out, ve.Error())
	}
	return out
}
