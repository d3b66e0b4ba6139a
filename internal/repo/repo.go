package repo

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"freshline/internal/db"
)

// Repo provides event, build and api-key access over *sql.DB. Queries are
// written with ? placeholders and rebound for the active dialect.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

// isUniqueViolation reports whether err comes from a UNIQUE constraint.
// lib/pq exposes a typed error; modernc sqlite surfaces the constraint
// name in the message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
