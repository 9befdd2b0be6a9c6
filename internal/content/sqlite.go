package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed post store. It implements both Provider
// (LIKE-based relevance search) and PostFinder.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the post store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		author_id INTEGER NOT NULL,
		author_name TEXT NOT NULL,
		author_email TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_title ON posts(title);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddPost inserts a post and returns its assigned ID.
func (s *Store) AddPost(ctx context.Context, p *Post) (int64, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (title, content, author_id, author_name, author_email, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Title, p.Content, p.AuthorID, p.AuthorName, p.AuthorEmail, p.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("post id: %w", err)
	}
	p.ID = id
	return id, nil
}

// FindPost implements PostFinder.
func (s *Store) FindPost(ctx context.Context, id int64) (*Post, error) {
	var p Post
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, author_id, author_name, author_email, created_at
		FROM posts WHERE id = ?
	`, id).Scan(&p.ID, &p.Title, &p.Content, &p.AuthorID, &p.AuthorName, &p.AuthorEmail, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %d: %w", id, ErrPostNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find post %d: %w", id, err)
	}
	return &p, nil
}

// Relevant implements Provider with a simple LIKE match over title and
// content. Good enough for prompt grounding; swap in FTS5 if relevance
// quality becomes a problem.
func (s *Store) Relevant(ctx context.Context, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 5
	}

	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT title, content FROM posts
		WHERE title LIKE ? OR content LIKE ?
		ORDER BY created_at DESC
		LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Title, &it.Content); err != nil {
			continue
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
