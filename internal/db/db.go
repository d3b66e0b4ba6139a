package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const defaultDBName = "freshline.db"

// Dialect names the SQL flavor the open connection speaks. The repo and
// migration layers branch on it for placeholders and schema files.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type Config struct {
	Driver string `yaml:"driver"` // sqlite or postgres, sqlite when empty
	Path   string `yaml:"path"`   // sqlite data directory
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// Dialect resolves the configured driver name, defaulting to sqlite.
func (c Config) Dialect() (Dialect, error) {
	switch c.Driver {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported db driver %q", c.Driver)
	}
}

func dbPath(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, defaultDBName)
}

// EnsureDir creates the sqlite data directory if missing.
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the configured database. SQLite runs in WAL mode with foreign
// keys on and a busy timeout so concurrent handlers queue instead of failing.
func Open(cfg Config) (*sql.DB, Dialect, error) {
	dialect, err := cfg.Dialect()
	if err != nil {
		return nil, "", err
	}
	switch dialect {
	case DialectPostgres:
		conn, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		return conn, DialectPostgres, nil
	default:
		if _, err := EnsureDir(cfg.Path); err != nil {
			return nil, "", err
		}
		dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg.Path))
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, "", err
		}
		return conn, DialectSQLite, nil
	}
}

// Path returns the sqlite db path for the data directory.
func Path(dir string) string {
	return dbPath(dir)
}

// Rebind converts ? placeholders to the dialect's positional form.
// Queries are written with ? throughout; postgres gets $1..$N.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
