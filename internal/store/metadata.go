package store

import (
	"context"
	"database/sql"
	"time"
)

// importedFileHash returns the recorded SHA-256 of an imported questions file,
// or "" if the file was never imported.
func (s *SQLStore) importedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT sha256 FROM imported_files WHERE path = ?`), path,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

func (s *SQLStore) setImportedFileHash(ctx context.Context, tx *sql.Tx, path, hash string) error {
	_, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO imported_files (path, sha256, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET sha256 = excluded.sha256, imported_at = excluded.imported_at`),
		path, hash, time.Now().UTC(),
	)
	return err
}

// QuestionCount returns the number of questions in the database.
func (s *SQLStore) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}
