package model

import (
	"strings"
	"time"
)

// Candidate is one answer a rater may pick for a question.
type Candidate struct {
	Label       string `json:"label" yaml:"label"`
	SourceModel string `json:"sourceModel" yaml:"sourceModel"`
	Content     string `json:"content" yaml:"content"`
}

// Judgment returns the value recorded when this candidate is selected.
func (c Candidate) Judgment() string {
	if c.SourceModel != "" {
		return c.SourceModel
	}
	return c.Label
}

// Question is a fixed evaluation item. It is never mutated after load.
type Question struct {
	ID          int64       `json:"id"`
	Prompt      string      `json:"prompt"`
	GroundTruth string      `json:"groundTruth,omitempty"`
	Candidates  []Candidate `json:"candidates"`
}

// Response is one rater's judgment on one question.
type Response struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"userId"`
	QuestionID int64     `json:"questionId"`
	Evaluation string    `json:"evaluation"`
	Comments   *string   `json:"comments"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ResponseInput is a submitted judgment before the store assigns an ID.
type ResponseInput struct {
	UserID     string  `json:"userId"`
	QuestionID int64   `json:"questionId"`
	Evaluation string  `json:"evaluation"`
	Comments   *string `json:"comments,omitempty"`
}

// Problems lists what is wrong with the input, or nil if it is acceptable.
func (in ResponseInput) Problems() []string {
	var out []string
	if strings.TrimSpace(in.UserID) == "" {
		out = append(out, "userId must not be empty")
	}
	if in.Evaluation == "" {
		out = append(out, "evaluation must not be empty")
	}
	return out
}

// Backend names a response storage implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// StoreConfig selects and parameterizes the storage backend at startup.
type StoreConfig struct {
	Backend     Backend
	DataDir     string // file backend directory
	DBPath      string // sqlite database path
	DatabaseURL string // postgres connection string
	StrictRead  bool   // file backend: fail reads on malformed lines
	Fsync       bool   // file backend: fsync after every append
}

// QuestionImport is one question as it appears in a questions file.
// Either Candidates or the per-method fields are set, never both.
type QuestionImport struct {
	ID          *int64      `json:"id" yaml:"id"`
	CaseID      *int64      `json:"case_id" yaml:"case_id"`
	Prompt      string      `json:"prompt" yaml:"prompt"`
	CaseName    string      `json:"case_name" yaml:"case_name"`
	GroundTruth string      `json:"ground_truth" yaml:"ground_truth"`
	Candidates  []Candidate `json:"candidates" yaml:"candidates"`

	GRACE string `json:"GRACE" yaml:"GRACE"`
	LTE   string `json:"LTE" yaml:"LTE"`
	MEMIT string `json:"MEMIT" yaml:"MEMIT"`
	LoRA  string `json:"LoRA" yaml:"LoRA"`
	ROME  string `json:"ROME" yaml:"ROME"`
}
