package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteEmailRepository keeps mail in a single SQLite table.
type SQLiteEmailRepository struct {
	db *sql.DB
}

func NewSQLiteEmailRepository(path string) (*SQLiteEmailRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc's driver does not support concurrent writers on one file.
	db.SetMaxOpenConns(1)

	repo := &SQLiteEmailRepository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

func (r *SQLiteEmailRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteEmailRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS emails (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		folder TEXT NOT NULL DEFAULT 'inbox',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_emails_recipient_folder ON emails(recipient, folder);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (r *SQLiteEmailRepository) Add(ctx context.Context, email EmailRecord) error {
	if email.Folder == "" {
		email.Folder = FolderInbox
	}
	if email.CreatedAt.IsZero() {
		email.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO emails (sender, recipient, subject, body, folder, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		email.Sender, email.Recipient, email.Subject, email.Body, email.Folder, email.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert email: %w", err)
	}
	return nil
}

func (r *SQLiteEmailRepository) List(ctx context.Context, recipient, folder string) ([]EmailRecord, error) {
	return r.query(ctx,
		`SELECT id, sender, recipient, subject, body, folder, created_at FROM emails
		 WHERE recipient = ? AND folder = ? ORDER BY id`,
		recipient, folder,
	)
}

func (r *SQLiteEmailRepository) Search(ctx context.Context, recipient, keyword string) ([]EmailRecord, error) {
	pattern := "%" + escapeLike(strings.ToLower(keyword)) + "%"
	return r.query(ctx,
		`SELECT id, sender, recipient, subject, body, folder, created_at FROM emails
		 WHERE recipient = ? AND (lower(subject) LIKE ? ESCAPE '\' OR lower(body) LIKE ? ESCAPE '\')
		 ORDER BY id`,
		recipient, pattern, pattern,
	)
}

func (r *SQLiteEmailRepository) query(ctx context.Context, q string, args ...any) ([]EmailRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query emails: %w", err)
	}
	defer rows.Close()

	out := []EmailRecord{}
	for rows.Next() {
		var e EmailRecord
		if err := rows.Scan(&e.ID, &e.Sender, &e.Recipient, &e.Subject, &e.Body, &e.Folder, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
