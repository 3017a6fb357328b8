package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"faceattend/internal/attendance"
)

const (
	studentColumns = `id, student_id, name, face_descriptor, photo, photo_url, photo_key, enrolled_at, last_attendance`
	recordColumns  = `id, student_id, occurred_at, method, confidence`
)

// SQLRepository persists students and attendance in Postgres or SQLite.
type SQLRepository struct {
	db *sql.DB
	d  dialect
}

// NewSQLRepository wraps an opened and migrated database.
func NewSQLRepository(db *sql.DB, d dialect) *SQLRepository {
	return &SQLRepository{db: db, d: d}
}

// DB exposes the underlying pool for health checks.
func (r *SQLRepository) DB() *sql.DB { return r.db }

func (r *SQLRepository) AddStudent(ctx context.Context, st attendance.Student) error {
	_, err := r.db.ExecContext(ctx, r.d.bind(`
		INSERT INTO students (`+studentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), st.ID, st.StudentID, st.Name, r.d.encodeDescriptor(st.FaceDescriptor), nullBytes(st.Photo),
		st.PhotoURL, st.PhotoKey, st.EnrolledAt.UTC(), nullTime(st.LastAttendance))
	if err != nil {
		if r.d.isUniqueError(err) {
			return attendance.ErrDuplicateStudentID
		}
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetStudent(ctx context.Context, id string) (*attendance.Student, error) {
	row := r.db.QueryRowContext(ctx, r.d.bind(`SELECT `+studentColumns+` FROM students WHERE id = ?`), id)
	return r.scanStudent(row)
}

func (r *SQLRepository) GetStudentByStudentID(ctx context.Context, studentID string) (*attendance.Student, error) {
	row := r.db.QueryRowContext(ctx, r.d.bind(`SELECT `+studentColumns+` FROM students WHERE student_id = ?`), studentID)
	return r.scanStudent(row)
}

func (r *SQLRepository) ListStudents(ctx context.Context) ([]attendance.Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY enrolled_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []attendance.Student
	for rows.Next() {
		st, err := r.scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (r *SQLRepository) UpdateStudent(ctx context.Context, st attendance.Student) error {
	res, err := r.db.ExecContext(ctx, r.d.bind(`
		UPDATE students
		SET student_id = ?, name = ?, face_descriptor = ?, photo = ?, photo_url = ?, photo_key = ?, last_attendance = ?
		WHERE id = ?
	`), st.StudentID, st.Name, r.d.encodeDescriptor(st.FaceDescriptor), nullBytes(st.Photo),
		st.PhotoURL, st.PhotoKey, nullTime(st.LastAttendance), st.ID)
	if err != nil {
		if r.d.isUniqueError(err) {
			return attendance.ErrDuplicateStudentID
		}
		return fmt.Errorf("update student: %w", err)
	}
	return expectRow(res)
}

func (r *SQLRepository) DeleteStudent(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.d.bind(`DELETE FROM students WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return expectRow(res)
}

func (r *SQLRepository) AddAttendanceRecord(ctx context.Context, rec attendance.Record) error {
	return insertRecord(ctx, r.db, r.d, rec)
}

func (r *SQLRepository) ListAttendanceByStudent(ctx context.Context, studentID string) ([]attendance.Record, error) {
	rows, err := r.db.QueryContext(ctx, r.d.bind(`
		SELECT `+recordColumns+` FROM attendance
		WHERE student_id = ?
		ORDER BY occurred_at
	`), studentID)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return scanRecords(rows)
}

func (r *SQLRepository) ListAttendanceBetween(ctx context.Context, from, to time.Time) ([]attendance.Record, error) {
	rows, err := r.db.QueryContext(ctx, r.d.bind(`
		SELECT `+recordColumns+` FROM attendance
		WHERE occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at
	`), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return scanRecords(rows)
}

func (r *SQLRepository) RecordAttendanceOnce(ctx context.Context, rec attendance.Record, day attendance.Day) (*attendance.Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	if err := tx.QueryRowContext(ctx, r.d.bind(r.d.lockStudent), rec.StudentID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, attendance.ErrStudentNotFound
		}
		return nil, fmt.Errorf("lock student: %w", err)
	}

	row := tx.QueryRowContext(ctx, r.d.bind(`
		SELECT `+recordColumns+` FROM attendance
		WHERE student_id = ? AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at
		LIMIT 1
	`), rec.StudentID, day.Start.UTC(), day.End.UTC())
	existing, err := scanRecord(row)
	switch {
	case err == nil:
		return &existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("find attendance: %w", err)
	}

	if err := insertRecord(ctx, tx, r.d, rec); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, r.d.bind(`UPDATE students SET last_attendance = ? WHERE id = ?`),
		rec.Timestamp.UTC(), rec.StudentID); err != nil {
		return nil, fmt.Errorf("update last attendance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return nil, nil
}

func (r *SQLRepository) Close() error { return r.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, db execer, d dialect, rec attendance.Record) error {
	var conf sql.NullFloat64
	if rec.Confidence != nil {
		conf = sql.NullFloat64{Float64: *rec.Confidence, Valid: true}
	}
	_, err := db.ExecContext(ctx, d.bind(`
		INSERT INTO attendance (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`), rec.ID, rec.StudentID, rec.Timestamp.UTC(), string(rec.Method), conf)
	if err != nil {
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanStudent(row scanner) (*attendance.Student, error) {
	var (
		st   attendance.Student
		desc = r.d.newDescriptor()
		last sql.NullTime
	)
	if err := row.Scan(&st.ID, &st.StudentID, &st.Name, desc, &st.Photo, &st.PhotoURL, &st.PhotoKey, &st.EnrolledAt, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, attendance.ErrStudentNotFound
		}
		return nil, fmt.Errorf("scan student: %w", err)
	}
	st.FaceDescriptor = desc.Floats()
	if last.Valid {
		t := last.Time
		st.LastAttendance = &t
	}
	return &st, nil
}

func scanRecord(row scanner) (attendance.Record, error) {
	var (
		rec    attendance.Record
		method string
		conf   sql.NullFloat64
	)
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.Timestamp, &method, &conf); err != nil {
		return attendance.Record{}, err
	}
	rec.Method = attendance.Method(method)
	if conf.Valid {
		c := conf.Float64
		rec.Confidence = &c
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]attendance.Record, error) {
	defer rows.Close()
	var out []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return attendance.ErrStudentNotFound
	}
	return nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
