package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialect selects placeholder syntax for the SQL repository.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Repository persists the roster in Postgres or SQLite.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	if dialect == "" {
		dialect = Postgres
	}
	return &Repository{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		roll_number TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		room TEXT NOT NULL DEFAULT '',
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		verified_at TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS students_department_room_idx ON students (department, room)`,
	`CREATE TABLE IF NOT EXISTS invigilators (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS verification_attempts (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL UNIQUE,
		roll_number TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		distance DOUBLE PRECISION NULL,
		probe_path TEXT NOT NULL DEFAULT '',
		archive_url TEXT NOT NULL DEFAULT '',
		received_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS verification_attempts_roll_idx ON verification_attempts (roll_number, completed_at)`,
}

// Migrate creates the tables when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const studentColumns = `id, roll_number, name, department, room, is_verified, verified_at, created_at`

// MarkVerified flips is_verified for the roll number in a single statement and
// returns the updated row, or nil when no student has that roll number. The
// first verification timestamp is kept.
func (r *Repository) MarkVerified(ctx context.Context, rollNumber string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		UPDATE students
		SET is_verified = ?, verified_at = COALESCE(verified_at, ?)
		WHERE roll_number = ?
		RETURNING `+studentColumns), true, r.now(), rollNumber)
	s, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FindStudent returns a single student by roll number.
func (r *Repository) FindStudent(ctx context.Context, rollNumber string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+studentColumns+` FROM students WHERE roll_number = ?`), rollNumber)
	s, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListStudents returns students matching the non-empty filter fields.
func (r *Repository) ListStudents(ctx context.Context, filter Filter) ([]Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	args := []any{}
	clauses := []string{}
	if filter.Department != "" {
		clauses = append(clauses, "department = ?")
		args = append(args, filter.Department)
	}
	if filter.Room != "" {
		clauses = append(clauses, "room = ?")
		args = append(args, filter.Room)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY roll_number"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Student{}
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *s)
	}
	return res, rows.Err()
}

// UpsertStudent creates a student or updates its profile fields. The
// verification state of an existing student is left untouched.
func (r *Repository) UpsertStudent(ctx context.Context, s Student) (Student, error) {
	if s.RollNumber == "" {
		return Student{}, errors.New("roll number required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now()
	}
	row := r.db.QueryRowContext(ctx, r.rebind(`
		INSERT INTO students (id, roll_number, name, department, room, is_verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (roll_number) DO UPDATE SET
			name = excluded.name,
			department = excluded.department,
			room = excluded.room
		RETURNING `+studentColumns), s.ID, s.RollNumber, s.Name, s.Department, s.Room, false, s.CreatedAt)
	saved, err := scanStudent(row)
	if err != nil {
		return Student{}, err
	}
	return *saved, nil
}

// FindInvigilator returns the invigilator with the given username, or nil.
func (r *Repository) FindInvigilator(ctx context.Context, username string) (*Invigilator, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT id, username, password_hash, created_at
		FROM invigilators WHERE username = ?
	`), username)
	var inv Invigilator
	var createdAt dbTime
	if err := row.Scan(&inv.ID, &inv.Username, &inv.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	inv.CreatedAt = createdAt.Time
	return &inv, nil
}

// CreateInvigilator stores an invigilator, replacing the password hash when
// the username already exists.
func (r *Repository) CreateInvigilator(ctx context.Context, username, passwordHash string) (Invigilator, error) {
	if username == "" || passwordHash == "" {
		return Invigilator{}, errors.New("username and password hash required")
	}
	inv := Invigilator{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash, CreatedAt: r.now()}
	row := r.db.QueryRowContext(ctx, r.rebind(`
		INSERT INTO invigilators (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET password_hash = excluded.password_hash
		RETURNING id, created_at
	`), inv.ID, inv.Username, inv.PasswordHash, inv.CreatedAt)
	var createdAt dbTime
	if err := row.Scan(&inv.ID, &createdAt); err != nil {
		return Invigilator{}, err
	}
	inv.CreatedAt = createdAt.Time
	return inv, nil
}

// RecordAttempt writes an audit row. A request id is recorded at most once;
// replays return the row unchanged.
func (r *Repository) RecordAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	if a.RequestID == "" {
		return Attempt{}, errors.New("request id required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	if a.CompletedAt.IsZero() {
		a.CompletedAt = a.CreatedAt
	}
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = a.CompletedAt
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO verification_attempts
			(id, request_id, roll_number, outcome, kind, distance, probe_path, archive_url, received_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO NOTHING
	`), a.ID, a.RequestID, a.RollNumber, a.Outcome, a.Kind, a.Distance, a.ProbePath, a.ArchiveURL,
		a.ReceivedAt.UTC(), a.CompletedAt.UTC(), a.CreatedAt)
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// ListAttempts returns recent attempts, newest first, optionally for one roll number.
func (r *Repository) ListAttempts(ctx context.Context, rollNumber string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, request_id, roll_number, outcome, kind, distance, probe_path, archive_url, received_at, completed_at, created_at
		FROM verification_attempts`
	args := []any{}
	if rollNumber != "" {
		query += " WHERE roll_number = ?"
		args = append(args, rollNumber)
	}
	query += " ORDER BY completed_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Attempt
	for rows.Next() {
		var a Attempt
		var distance sql.NullFloat64
		var receivedAt, completedAt, createdAt dbTime
		if err := rows.Scan(&a.ID, &a.RequestID, &a.RollNumber, &a.Outcome, &a.Kind, &distance, &a.ProbePath, &a.ArchiveURL,
			&receivedAt, &completedAt, &createdAt); err != nil {
			return nil, err
		}
		a.ReceivedAt, a.CompletedAt, a.CreatedAt = receivedAt.Time, completedAt.Time, createdAt.Time
		if distance.Valid {
			d := distance.Float64
			a.Distance = &d
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (*Student, error) {
	var s Student
	var verifiedAt, createdAt dbTime
	if err := row.Scan(&s.ID, &s.RollNumber, &s.Name, &s.Department, &s.Room, &s.IsVerified, &verifiedAt, &createdAt); err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		s.VerifiedAt = &t
	}
	s.CreatedAt = createdAt.Time
	return &s, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (r *Repository) rebind(query string) string {
	if r.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

var _ Store = (*Repository)(nil)
