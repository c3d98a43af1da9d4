// Package store persists users, behaviour templates and the authentication
// attempt log in SQLite.
//
// Templates are insert-only: enrollment writes a template once and
// verification never mutates it. Replacing a template is a separate,
// explicit operation. All reads and writes go through one *sql.DB pool, so
// a user enrolling and immediately logging in observes their own write.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"typeshield/internal/behaviour"
)

// Schema for the typeshield store.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    username        TEXT NOT NULL UNIQUE,
    password_hash   TEXT NOT NULL,
    created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS behaviour_templates (
    user_id         INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    dwell_times     TEXT NOT NULL,
    flight_times    TEXT NOT NULL,
    total_time      REAL NOT NULL,
    error_count     INTEGER NOT NULL,
    device_type     TEXT NOT NULL,
    created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_attempts (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     INTEGER REFERENCES users(id) ON DELETE SET NULL,
    username    TEXT,
    outcome     TEXT NOT NULL,
    score       REAL,
    category    TEXT,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_user ON auth_attempts(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_attempts_username ON auth_attempts(username);
`

// Store errors.
var (
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("store: username already taken")

	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = errors.New("store: user not found")

	// ErrTemplateExists guards against silent template overwrites.
	ErrTemplateExists = errors.New("store: behaviour template already enrolled")
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at the given path and applies the
// schema. busyTimeout bounds how long SQLite waits on a locked database.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateUser registers a new user and returns it.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, created_at)
		VALUES (?, ?, ?)`,
		username, passwordHash, now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return &User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// CreateUserWithTemplate registers a user and enrolls their behaviour
// template in one transaction, so a template failure never leaves a user
// row behind that would block re-registration.
func (s *Store) CreateUserWithTemplate(ctx context.Context, username, passwordHash string, v behaviour.TimingVector) (*User, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	dwell, flight, err := marshalTimings(v)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enrollment: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, created_at)
		VALUES (?, ?, ?)`,
		username, passwordHash, now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO behaviour_templates (user_id, dwell_times, flight_times, total_time, error_count, device_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, dwell, flight, v.TotalTime, v.ErrorCount, string(v.Device), now.Unix(),
	); err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment: %w", err)
	}
	return &User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// GetUserByName retrieves a user by username.
func (s *Store) GetUserByName(ctx context.Context, username string) (*User, error) {
	var u User
	var createdAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

// PutTemplate enrolls a behaviour template for a user. Enrollment happens
// once; an existing template is never silently overwritten.
func (s *Store) PutTemplate(ctx context.Context, userID int64, v behaviour.TimingVector) error {
	if err := v.Validate(); err != nil {
		return err
	}

	dwell, flight, err := marshalTimings(v)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO behaviour_templates (user_id, dwell_times, flight_times, total_time, error_count, device_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, dwell, flight, v.TotalTime, v.ErrorCount, string(v.Device), time.Now().Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTemplateExists
		}
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// ReplaceTemplate performs an explicit re-enrollment, overwriting the
// stored template for the user.
func (s *Store) ReplaceTemplate(ctx context.Context, userID int64, v behaviour.TimingVector) error {
	if err := v.Validate(); err != nil {
		return err
	}

	dwell, flight, err := marshalTimings(v)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO behaviour_templates (user_id, dwell_times, flight_times, total_time, error_count, device_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			dwell_times = excluded.dwell_times,
			flight_times = excluded.flight_times,
			total_time = excluded.total_time,
			error_count = excluded.error_count,
			device_type = excluded.device_type,
			created_at = excluded.created_at`,
		userID, dwell, flight, v.TotalTime, v.ErrorCount, string(v.Device), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("replace template: %w", err)
	}
	return nil
}

// Template retrieves the enrolled template for a user. Returns
// behaviour.ErrTemplateNotFound when no template is enrolled.
func (s *Store) Template(ctx context.Context, userID int64) (behaviour.TimingVector, error) {
	var dwell, flight, device string
	var v behaviour.TimingVector

	err := s.db.QueryRowContext(ctx, `
		SELECT dwell_times, flight_times, total_time, error_count, device_type
		FROM behaviour_templates WHERE user_id = ?`, userID,
	).Scan(&dwell, &flight, &v.TotalTime, &v.ErrorCount, &device)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return behaviour.TimingVector{}, behaviour.ErrTemplateNotFound
		}
		return behaviour.TimingVector{}, fmt.Errorf("get template: %w", err)
	}

	if err := json.Unmarshal([]byte(dwell), &v.DwellTimes); err != nil {
		return behaviour.TimingVector{}, fmt.Errorf("unmarshal dwell times: %w", err)
	}
	if err := json.Unmarshal([]byte(flight), &v.FlightTimes); err != nil {
		return behaviour.TimingVector{}, fmt.Errorf("unmarshal flight times: %w", err)
	}
	v.Device = behaviour.DeviceClass(device)

	return v, nil
}

// InsertAttempt logs one authentication attempt.
func (s *Store) InsertAttempt(ctx context.Context, a *Attempt) (int64, error) {
	var userID any
	if a.UserID != 0 {
		userID = a.UserID
	}
	var score any
	if a.Score != nil {
		score = *a.Score
	}

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_attempts (user_id, username, outcome, score, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, a.Username, string(a.Outcome), score, a.Category, createdAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// RecentAttempts returns a user's most recent attempts, newest first.
func (s *Store) RecentAttempts(ctx context.Context, userID int64, limit int) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, username, outcome, score, category, created_at
		FROM auth_attempts
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var uid sql.NullInt64
		var score sql.NullFloat64
		var category sql.NullString
		var createdAt int64

		if err := rows.Scan(&a.ID, &uid, &a.Username, &a.Outcome, &score, &category, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if uid.Valid {
			a.UserID = uid.Int64
		}
		if score.Valid {
			v := score.Float64
			a.Score = &v
		}
		if category.Valid {
			a.Category = category.String
		}
		a.CreatedAt = time.Unix(createdAt, 0)
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// Totals aggregates a user's attempt outcomes.
func (s *Store) Totals(ctx context.Context, userID int64) (AttemptTotals, error) {
	var t AttemptTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'failure' THEN 1 ELSE 0 END), 0)
		FROM auth_attempts WHERE user_id = ?`, userID,
	).Scan(&t.Success, &t.Failure)
	if err != nil {
		return AttemptTotals{}, fmt.Errorf("attempt totals: %w", err)
	}
	return t, nil
}

// marshalTimings encodes the timing slices as JSON text columns. Empty
// slices encode as [] so round-trips stay symmetric.
func marshalTimings(v behaviour.TimingVector) (dwell, flight string, err error) {
	d, err := json.Marshal(nonNil(v.DwellTimes))
	if err != nil {
		return "", "", fmt.Errorf("marshal dwell times: %w", err)
	}
	f, err := json.Marshal(nonNil(v.FlightTimes))
	if err != nil {
		return "", "", fmt.Errorf("marshal flight times: %w", err)
	}
	return string(d), string(f), nil
}

func nonNil(s []float64) []float64 {
	if s == nil {
		return []float64{}
	}
	return s
}

// isUniqueViolation reports whether the error is a SQLite unique or primary
// key constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
