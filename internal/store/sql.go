package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/lexeval/internal/model"
	"github.com/pavelanni/lexeval/internal/questions"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style and DDL for a SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore keeps questions and responses in relational tables.
// Response IDs come from the database sequence.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL connects to the database named by cfg and creates the schema.
func OpenSQL(ctx context.Context, cfg model.StoreConfig) (*SQLStore, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	switch cfg.Backend {
	case model.BackendSQLite:
		dialect = DialectSQLite
		db, err = sql.Open("sqlite", sqliteDSN(cfg.DBPath))
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		// One connection: every statement sees the same database, including ":memory:".
		db.SetMaxOpenConns(1)
	case model.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("postgres backend requires a database URL")
		}
		dialect = DialectPostgres
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
	default:
		return nil, fmt.Errorf("backend %q is not relational", cfg.Backend)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := NewSQL(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewSQL wraps an already open database. The caller runs Migrate if needed.
func NewSQL(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func sqliteDSN(path string) string {
	if path == "" || path == ":memory:" {
		return ":memory:"
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DialectPostgres {
		schema = postgresSchema
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY,
		prompt TEXT NOT NULL,
		ground_truth TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS question_candidates (
		question_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		label TEXT NOT NULL,
		source_model TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		PRIMARY KEY (question_id, position),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		question_id INTEGER NOT NULL,
		evaluation TEXT NOT NULL,
		comments TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS responses_user_id_idx ON responses(user_id);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS questions (
		id BIGINT PRIMARY KEY,
		prompt TEXT NOT NULL,
		ground_truth TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS question_candidates (
		question_id BIGINT NOT NULL REFERENCES questions(id),
		position INTEGER NOT NULL,
		label TEXT NOT NULL,
		source_model TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		PRIMARY KEY (question_id, position)
	);

	CREATE TABLE IF NOT EXISTS responses (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		question_id BIGINT NOT NULL,
		evaluation TEXT NOT NULL,
		comments TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS responses_user_id_idx ON responses(user_id);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		imported_at TIMESTAMPTZ NOT NULL
	);
	`

// rebind rewrites ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ImportQuestionFile inserts the questions of f unless the same file was
// imported before. A file that changed since its import is skipped so
// existing responses keep pointing at the questions they were given for.
func (s *SQLStore) ImportQuestionFile(ctx context.Context, f questions.File) error {
	storedHash, err := s.importedFileHash(ctx, f.Path)
	if err != nil {
		return fmt.Errorf("check import status: %w", err)
	}
	if storedHash == f.Hash {
		slog.Info("questions file unchanged, skipping", "path", f.Path)
		return nil
	}
	if storedHash != "" {
		slog.Warn("questions file changed since last import, skipping to avoid breaking existing responses",
			"path", f.Path)
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	inserted := 0
	for _, q := range f.Questions {
		res, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO questions (id, prompt, ground_truth) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`),
			q.ID, q.Prompt, q.GroundTruth,
		)
		if err != nil {
			return fmt.Errorf("insert question %d: %w", q.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			slog.Warn("question id already present, keeping stored version", "path", f.Path, "id", q.ID)
			continue
		}
		for pos, c := range q.Candidates {
			_, err := tx.ExecContext(ctx,
				s.rebind(`INSERT INTO question_candidates (question_id, position, label, source_model, content)
				 VALUES (?, ?, ?, ?, ?)`),
				q.ID, pos, c.Label, c.SourceModel, c.Content,
			)
			if err != nil {
				return fmt.Errorf("insert candidate %d of question %d: %w", pos, q.ID, err)
			}
		}
		inserted++
	}

	if err := s.setImportedFileHash(ctx, tx, f.Path, f.Hash); err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("imported questions", "path", f.Path, "count", inserted)
	return nil
}

// ListQuestions returns all questions ordered by ID.
func (s *SQLStore) ListQuestions(ctx context.Context) ([]model.Question, error) {
	questions, err := s.queryQuestions(ctx, `SELECT id, prompt, ground_truth FROM questions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	cands, err := s.queryCandidates(ctx,
		`SELECT question_id, label, source_model, content FROM question_candidates ORDER BY question_id, position`)
	if err != nil {
		return nil, err
	}
	for i := range questions {
		questions[i].Candidates = cands[questions[i].ID]
	}
	if questions == nil {
		questions = []model.Question{}
	}
	return questions, nil
}

// GetQuestion returns a question by ID, or nil if it does not exist.
func (s *SQLStore) GetQuestion(ctx context.Context, id int64) (*model.Question, error) {
	var q model.Question
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, prompt, ground_truth FROM questions WHERE id = ?`), id,
	).Scan(&q.ID, &q.Prompt, &q.GroundTruth)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cands, err := s.queryCandidates(ctx,
		`SELECT question_id, label, source_model, content FROM question_candidates WHERE question_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	q.Candidates = cands[id]
	return &q, nil
}

func (s *SQLStore) queryQuestions(ctx context.Context, query string, args ...any) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Prompt, &q.GroundTruth); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *SQLStore) queryCandidates(ctx context.Context, query string, args ...any) (map[int64][]model.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]model.Candidate)
	for rows.Next() {
		var qID int64
		var c model.Candidate
		if err := rows.Scan(&qID, &c.Label, &c.SourceModel, &c.Content); err != nil {
			return nil, err
		}
		out[qID] = append(out[qID], c)
	}
	return out, rows.Err()
}

// CreateResponse checks the question exists and inserts the response in one transaction.
func (s *SQLStore) CreateResponse(ctx context.Context, in model.ResponseInput) (model.Response, error) {
	if err := checkInput(in); err != nil {
		return model.Response{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Response{}, err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM questions WHERE id = ?`), in.QuestionID,
	).Scan(&count)
	if err != nil {
		return model.Response{}, fmt.Errorf("check question: %w", err)
	}
	if count == 0 {
		return model.Response{}, fmt.Errorf("question %d: %w", in.QuestionID, ErrNotFound)
	}

	r := newResponse(0, in, time.Now().UTC())
	err = tx.QueryRowContext(ctx,
		s.rebind(`INSERT INTO responses (user_id, question_id, evaluation, comments, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		r.UserID, r.QuestionID, r.Evaluation, r.Comments, r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		return model.Response{}, fmt.Errorf("insert response: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Response{}, fmt.Errorf("commit response: %w", err)
	}

	logCreated(model.Backend(s.dialect), r)
	return r, nil
}

// ListResponses returns a user's responses ordered by ID.
func (s *SQLStore) ListResponses(ctx context.Context, userID string) ([]model.Response, error) {
	return s.queryResponses(ctx,
		`SELECT id, user_id, question_id, evaluation, comments, created_at FROM responses WHERE user_id = ? ORDER BY id`,
		userID)
}

// AllResponses returns every response ordered by ID.
func (s *SQLStore) AllResponses(ctx context.Context) ([]model.Response, error) {
	return s.queryResponses(ctx,
		`SELECT id, user_id, question_id, evaluation, comments, created_at FROM responses ORDER BY id`)
}

func (s *SQLStore) queryResponses(ctx context.Context, query string, args ...any) ([]model.Response, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	responses := []model.Response{}
	for rows.Next() {
		var r model.Response
		if err := rows.Scan(&r.ID, &r.UserID, &r.QuestionID, &r.Evaluation, &r.Comments, &r.CreatedAt); err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}
