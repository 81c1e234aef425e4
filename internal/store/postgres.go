package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/thomas/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	image_url  TEXT NOT NULL DEFAULT '',
	username   TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertUser inserts or replaces a directory entry.
func (s *PostgresStore) UpsertUser(ctx context.Context, u *models.User) error {
	defer observeDirectory(time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name, image_url, username, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			image_url = EXCLUDED.image_url,
			username = EXCLUDED.username,
			updated_at = NOW()
	`, u.ID, normalizeEmail(u.Email), u.FirstName, u.LastName, u.ImageURL, u.Username, u.CreatedAt)
	return err
}

// DeleteUser removes a directory entry.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	defer observeDirectory(time.Now())

	_, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

// GetUserByEmail retrieves a user by exact email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer observeDirectory(time.Now())

	u := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, image_url, username, created_at
		FROM users WHERE email = $1
	`, normalizeEmail(email)).Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.ImageURL,
		&u.Username,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// SearchUsersByEmail finds users whose email contains pattern.
func (s *PostgresStore) SearchUsersByEmail(ctx context.Context, pattern string, limit int) ([]models.User, error) {
	defer observeDirectory(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, email, first_name, last_name, image_url, username, created_at
		FROM users
		WHERE email ILIKE $1 ESCAPE '\'
		ORDER BY email
		LIMIT $2
	`, likePattern(pattern), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.FirstName,
			&u.LastName,
			&u.ImageURL,
			&u.Username,
			&u.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// CountUsers returns the total number of directory entries.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
