package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lectura/lectura/internal/repository"
)

// CourseRepo implements repository.CourseRepository
type CourseRepo struct {
	db *DB
}

// NewCourseRepo creates a new course repository
func NewCourseRepo(db *DB) *CourseRepo {
	return &CourseRepo{db: db}
}

// Create creates a new course and fills in its assigned ID
func (r *CourseRepo) Create(ctx context.Context, course *repository.Course) error {
	query := `
		INSERT INTO courses (name, description, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		course.Name, course.Description, course.CreatedAt).Scan(&course.ID)
	if err != nil {
		return fmt.Errorf("failed to create course: %w", err)
	}
	return nil
}

// GetByID retrieves a course by ID
func (r *CourseRepo) GetByID(ctx context.Context, id int64) (*repository.Course, error) {
	query := `
		SELECT id, name, description, created_at
		FROM courses
		WHERE id = $1
	`
	var course repository.Course
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&course.ID, &course.Name, &course.Description, &course.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &course, nil
}

// List retrieves all courses, newest first
func (r *CourseRepo) List(ctx context.Context) ([]*repository.Course, error) {
	query := `
		SELECT id, name, description, created_at
		FROM courses
		ORDER BY created_at DESC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	var courses []*repository.Course
	for rows.Next() {
		var course repository.Course
		if err := rows.Scan(&course.ID, &course.Name, &course.Description, &course.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, &course)
	}
	return courses, rows.Err()
}

// Delete deletes a course
func (r *CourseRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete course: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Ensure CourseRepo implements CourseRepository
var _ repository.CourseRepository = (*CourseRepo)(nil)
