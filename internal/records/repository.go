package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, code, name, COALESCE(instructor, ''), capacity, created_at
		FROM courses
		ORDER BY code ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query courses: %w", err)
	}
	defer rows.Close()

	courses := make([]Course, 0)
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Instructor, &c.Capacity, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}

	return courses, nil
}

func (r *Repository) CreateCourse(ctx context.Context, input CourseInput) (Course, error) {
	var c Course
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO courses (code, name, instructor, capacity)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING id, code, name, COALESCE(instructor, ''), capacity, created_at
	`, input.Code, input.Name, input.Instructor, input.Capacity).
		Scan(&c.ID, &c.Code, &c.Name, &c.Instructor, &c.Capacity, &c.CreatedAt)
	if err != nil {
		return Course{}, fmt.Errorf("insert course: %w", err)
	}

	return c, nil
}

func (r *Repository) UpdateCourse(ctx context.Context, id int64, input CourseInput) (Course, error) {
	var c Course
	err := r.db.QueryRowContext(ctx, `
		UPDATE courses
		SET code = $2, name = $3, instructor = NULLIF($4, ''), capacity = $5
		WHERE id = $1
		RETURNING id, code, name, COALESCE(instructor, ''), capacity, created_at
	`, id, input.Code, input.Name, input.Instructor, input.Capacity).
		Scan(&c.ID, &c.Code, &c.Name, &c.Instructor, &c.Capacity, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, err
		}
		return Course{}, fmt.Errorf("update course: %w", err)
	}

	return c, nil
}

func (r *Repository) DeleteCourse(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// Enroll registers a student into a course. The unique (student, course)
// constraint makes a double enroll surface as a conflict to the handler.
func (r *Repository) Enroll(ctx context.Context, studentID, courseID int64) (Enrollment, error) {
	var e Enrollment
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO enrollments (student_id, course_id)
		VALUES ($1, $2)
		RETURNING id, student_id, course_id, enrolled_at
	`, studentID, courseID).Scan(&e.ID, &e.StudentID, &e.CourseID, &e.EnrolledAt)
	if err != nil {
		return Enrollment{}, fmt.Errorf("insert enrollment: %w", err)
	}

	return e, nil
}

func (r *Repository) GradesForStudent(ctx context.Context, studentID int64) ([]Grade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, course_id, grade_value, semester, uploaded_by, uploaded_at
		FROM grades
		WHERE student_id = $1
		ORDER BY uploaded_at DESC
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query grades: %w", err)
	}
	defer rows.Close()

	grades := make([]Grade, 0)
	for rows.Next() {
		var g Grade
		if err := rows.Scan(&g.ID, &g.StudentID, &g.CourseID, &g.GradeValue, &g.Semester, &g.UploadedBy, &g.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan grade: %w", err)
		}
		grades = append(grades, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grades: %w", err)
	}

	return grades, nil
}

// UpsertGrades applies a faculty batch upload in one transaction: existing
// (student, course) grades are overwritten, missing ones inserted.
func (r *Repository) UpsertGrades(ctx context.Context, courseID int64, entries []GradeEntry, uploadedBy int64) ([]Grade, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin grade upload tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	grades := make([]Grade, 0, len(entries))
	for _, entry := range entries {
		var g Grade
		err := tx.QueryRowContext(ctx, `
			INSERT INTO grades (student_id, course_id, grade_value, semester, uploaded_by, uploaded_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
			ON CONFLICT (student_id, course_id)
			DO UPDATE SET
				grade_value = EXCLUDED.grade_value,
				semester = EXCLUDED.semester,
				uploaded_by = EXCLUDED.uploaded_by,
				uploaded_at = EXCLUDED.uploaded_at
			RETURNING id, student_id, course_id, grade_value, semester, uploaded_by, uploaded_at
		`, entry.StudentID, courseID, entry.GradeValue, entry.Semester, uploadedBy, now).
			Scan(&g.ID, &g.StudentID, &g.CourseID, &g.GradeValue, &g.Semester, &g.UploadedBy, &g.UploadedAt)
		if err != nil {
			return nil, fmt.Errorf("upsert grade for student %d: %w", entry.StudentID, err)
		}
		grades = append(grades, g)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grade upload tx: %w", err)
	}

	return grades, nil
}
