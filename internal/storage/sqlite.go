package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the durable update ledger and the
// submission audit log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "statusbot.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// --- Update records ---

// UpsertUpdateRecord stores at for email, keeping the later of the stored and
// given timestamps.
func (s *Store) UpsertUpdateRecord(email string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO update_records (email, last_update_at) VALUES (?, ?)
		ON CONFLICT(email) DO UPDATE SET last_update_at = excluded.last_update_at
		WHERE excluded.last_update_at > update_records.last_update_at`,
		email, at.UTC().Format(timeLayout),
	)
	return err
}

func (s *Store) GetUpdateRecord(email string) (UpdateRecord, error) {
	var r UpdateRecord
	var at string
	err := s.db.QueryRow(`SELECT email, last_update_at FROM update_records WHERE email = ?`, email).Scan(&r.Email, &at)
	if err == sql.ErrNoRows {
		return UpdateRecord{}, ErrNotFound
	}
	if err != nil {
		return UpdateRecord{}, err
	}
	if r.LastUpdateAt, err = time.Parse(timeLayout, at); err != nil {
		return UpdateRecord{}, fmt.Errorf("parsing last_update_at: %w", err)
	}
	return r, nil
}

func (s *Store) ListUpdateRecords() ([]UpdateRecord, error) {
	rows, err := s.db.Query(`SELECT email, last_update_at FROM update_records ORDER BY email ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []UpdateRecord
	for rows.Next() {
		var r UpdateRecord
		var at string
		if err := rows.Scan(&r.Email, &at); err != nil {
			return nil, err
		}
		if r.LastUpdateAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("parsing last_update_at for %s: %w", r.Email, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Submissions ---

func (s *Store) SaveSubmission(sub Submission) error {
	source := sub.Source
	if source == "" {
		source = "text"
	}
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO submissions (id, email, channel_id, source, event_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Email, sub.ChannelID, source, sub.EventKey, createdAt.UTC().Format(timeLayout),
	)
	return err
}

// RecentSubmissions returns up to limit submissions, newest first. An empty
// email returns submissions from everyone.
func (s *Store) RecentSubmissions(email string, limit int) ([]Submission, error) {
	query := `SELECT id, email, channel_id, source, event_key, created_at FROM submissions`
	var args []interface{}
	if email != "" {
		query += ` WHERE email = ?`
		args = append(args, email)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Submission
	for rows.Next() {
		var sub Submission
		var createdAt string
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.ChannelID, &sub.Source, &sub.EventKey, &createdAt); err != nil {
			return nil, err
		}
		if sub.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for submission %s: %w", sub.ID, err)
		}
		results = append(results, sub)
	}
	return results, rows.Err()
}
