package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"

	"campus-records/internal/auth"
)

var courseCodeRegex = regexp.MustCompile(`^[A-Z]{2,6}-?[0-9]{2,4}$`)
var gradeValueRegex = regexp.MustCompile(`^[A-F][+-]?$|^(INC|DRP|P|NP)$`)

const maxJSONBodyBytes = 1 << 20
const maxGradeBatch = 500

// Store is the persistence consumed by the handlers; *Repository is the
// Postgres implementation.
type Store interface {
	ListCourses(ctx context.Context) ([]Course, error)
	CreateCourse(ctx context.Context, input CourseInput) (Course, error)
	UpdateCourse(ctx context.Context, id int64, input CourseInput) (Course, error)
	DeleteCourse(ctx context.Context, id int64) error
	Enroll(ctx context.Context, studentID, courseID int64) (Enrollment, error)
	GradesForStudent(ctx context.Context, studentID int64) ([]Grade, error)
	UpsertGrades(ctx context.Context, courseID int64, entries []GradeEntry, uploadedBy int64) ([]Grade, error)
}

var _ Store = (*Repository)(nil)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.store.ListCourses(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list courses")
		return
	}

	writeJSON(w, http.StatusOK, courses)
}

func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	input, ok := parseCourseInput(w, r)
	if !ok {
		return
	}

	course, err := h.store.CreateCourse(r.Context(), input)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create course")
		return
	}

	writeJSON(w, http.StatusCreated, course)
}

func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid course id")
	if !ok {
		return
	}

	input, ok := parseCourseInput(w, r)
	if !ok {
		return
	}

	course, err := h.store.UpdateCourse(r.Context(), id, input)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "course not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update course")
		return
	}

	writeJSON(w, http.StatusOK, course)
}

func (h *Handler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "invalid course id")
	if !ok {
		return
	}

	if err := h.store.DeleteCourse(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "course not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete course")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Enroll registers the authenticated student into the course.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "invalid course id")
	if !ok {
		return
	}

	studentID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	enrollment, err := h.store.Enroll(r.Context(), studentID, courseID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to enroll")
		return
	}

	writeJSON(w, http.StatusCreated, enrollment)
}

// MyGrades lists the authenticated student's grades.
func (h *Handler) MyGrades(w http.ResponseWriter, r *http.Request) {
	studentID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	grades, err := h.store.GradesForStudent(r.Context(), studentID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list grades")
		return
	}

	writeJSON(w, http.StatusOK, grades)
}

type gradeUploadRequest struct {
	Entries []GradeEntry `json:"entries"`
}

// UploadGrades applies a faculty batch of grade entries to a course.
func (h *Handler) UploadGrades(w http.ResponseWriter, r *http.Request) {
	courseID, ok := pathID(w, r, "invalid course id")
	if !ok {
		return
	}

	uploaderID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var body gradeUploadRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if len(body.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "entries are required")
		return
	}
	if len(body.Entries) > maxGradeBatch {
		writeError(w, http.StatusBadRequest, "too many entries in one upload")
		return
	}
	for _, entry := range body.Entries {
		if entry.StudentID <= 0 {
			writeError(w, http.StatusBadRequest, "student_id is invalid")
			return
		}
		if !gradeValueRegex.MatchString(strings.ToUpper(strings.TrimSpace(entry.GradeValue))) {
			writeError(w, http.StatusBadRequest, "grade_value is invalid")
			return
		}
	}

	grades, err := h.store.UpsertGrades(r.Context(), courseID, body.Entries, uploaderID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to upload grades")
		return
	}

	writeJSON(w, http.StatusOK, grades)
}

func parseCourseInput(w http.ResponseWriter, r *http.Request) (CourseInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input CourseInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return CourseInput{}, false
	}

	input.Code = strings.ToUpper(strings.TrimSpace(input.Code))
	input.Name = strings.TrimSpace(input.Name)
	input.Instructor = strings.TrimSpace(input.Instructor)

	if !courseCodeRegex.MatchString(input.Code) {
		writeError(w, http.StatusBadRequest, "code format is invalid")
		return CourseInput{}, false
	}
	if input.Name == "" || !utf8.ValidString(input.Name) || len(input.Name) > 256 {
		writeError(w, http.StatusBadRequest, "name is invalid")
		return CourseInput{}, false
	}
	if !utf8.ValidString(input.Instructor) || len(input.Instructor) > 128 {
		writeError(w, http.StatusBadRequest, "instructor is invalid")
		return CourseInput{}, false
	}
	if input.Capacity < 0 || input.Capacity > 10000 {
		writeError(w, http.StatusBadRequest, "capacity is invalid")
		return CourseInput{}, false
	}

	return input, true
}

func pathID(w http.ResponseWriter, r *http.Request, message string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, message)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
