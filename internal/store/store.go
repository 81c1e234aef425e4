package store

import (
	"context"
	"strings"
	"time"

	"github.com/eldtechnologies/thomas/internal/metrics"
	"github.com/eldtechnologies/thomas/internal/models"
)

// DataStore defines the interface for the user directory.
// Redis remains the source of truth for profiles; the directory backs
// email lookups, substring search and counts.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	UpsertUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id string) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SearchUsersByEmail(ctx context.Context, pattern string, limit int) ([]models.User, error)
	CountUsers(ctx context.Context) (int64, error)
}

// likePattern builds a substring LIKE pattern with wildcards escaped.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(normalizeEmail(s)) + "%"
}

func observeDirectory(start time.Time) {
	metrics.DirectoryLatency.Observe(time.Since(start).Seconds())
}
