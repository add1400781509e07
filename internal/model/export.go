package model

import "time"

// ResponseExport is the top-level JSON structure for response export.
type ResponseExport struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	Backend      Backend          `json:"backend"`
	NumQuestions int              `json:"num_questions"`
	Results      []ResponseResult `json:"results"`
}

// ResponseResult holds one stored response together with its question context.
type ResponseResult struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	QuestionID  int64     `json:"question_id"`
	Prompt      string    `json:"prompt"`
	Evaluation  string    `json:"evaluation"`
	Selected    string    `json:"selected,omitempty"`
	Comments    *string   `json:"comments"`
	SubmittedAt time.Time `json:"submitted_at"`
}
