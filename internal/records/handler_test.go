package records_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-records/internal/auth"
	"campus-records/internal/records"
)

const testSecret = "records-test-secret"

// stubStore records calls and serves canned data; the SQL behavior itself is
// exercised against the real schema, not here.
type stubStore struct {
	courses     []records.Course
	enrollments []records.Enrollment
	grades      []records.Grade

	lastUploadCourseID int64
	lastUploadedBy     int64
	lastEntries        []records.GradeEntry
	gradesRequestedFor int64
	deleteErr          error
}

func (s *stubStore) ListCourses(context.Context) ([]records.Course, error) {
	return s.courses, nil
}

func (s *stubStore) CreateCourse(_ context.Context, input records.CourseInput) (records.Course, error) {
	course := records.Course{
		ID:         int64(len(s.courses) + 1),
		Code:       input.Code,
		Name:       input.Name,
		Instructor: input.Instructor,
		Capacity:   input.Capacity,
		CreatedAt:  time.Now().UTC(),
	}
	s.courses = append(s.courses, course)
	return course, nil
}

func (s *stubStore) UpdateCourse(_ context.Context, id int64, input records.CourseInput) (records.Course, error) {
	for i, course := range s.courses {
		if course.ID == id {
			s.courses[i].Code = input.Code
			s.courses[i].Name = input.Name
			return s.courses[i], nil
		}
	}
	return records.Course{}, sql.ErrNoRows
}

func (s *stubStore) DeleteCourse(_ context.Context, id int64) error {
	return s.deleteErr
}

func (s *stubStore) Enroll(_ context.Context, studentID, courseID int64) (records.Enrollment, error) {
	enrollment := records.Enrollment{
		ID:         int64(len(s.enrollments) + 1),
		StudentID:  studentID,
		CourseID:   courseID,
		EnrolledAt: time.Now().UTC(),
	}
	s.enrollments = append(s.enrollments, enrollment)
	return enrollment, nil
}

func (s *stubStore) GradesForStudent(_ context.Context, studentID int64) ([]records.Grade, error) {
	s.gradesRequestedFor = studentID
	return s.grades, nil
}

func (s *stubStore) UpsertGrades(_ context.Context, courseID int64, entries []records.GradeEntry, uploadedBy int64) ([]records.Grade, error) {
	s.lastUploadCourseID = courseID
	s.lastUploadedBy = uploadedBy
	s.lastEntries = entries
	return s.grades, nil
}

func newTestMux(store records.Store) *http.ServeMux {
	verifier := auth.NewTokenVerifier(testSecret)
	handler := records.NewHandler(store)

	mux := http.NewServeMux()
	mux.Handle("GET /courses", auth.RequireAuth(verifier, http.HandlerFunc(handler.ListCourses)))
	mux.Handle("POST /courses", auth.RequireRole(verifier, auth.RoleFaculty, http.HandlerFunc(handler.CreateCourse)))
	mux.Handle("PUT /courses/{id}", auth.RequireRole(verifier, auth.RoleFaculty, http.HandlerFunc(handler.UpdateCourse)))
	mux.Handle("DELETE /courses/{id}", auth.RequireRole(verifier, auth.RoleCourseAuditAdmin, http.HandlerFunc(handler.DeleteCourse)))
	mux.Handle("POST /courses/{id}/enroll", auth.RequireRole(verifier, auth.RoleStudent, http.HandlerFunc(handler.Enroll)))
	mux.Handle("GET /grades", auth.RequireAuth(verifier, http.HandlerFunc(handler.MyGrades)))
	mux.Handle("POST /courses/{id}/grades", auth.RequireRole(verifier, auth.RoleFaculty, http.HandlerFunc(handler.UploadGrades)))
	return mux
}

func bearerFor(t *testing.T, userID int64, role string) string {
	t.Helper()

	issuer := auth.NewTokenIssuer(testSecret, 15*time.Minute)
	token, _, err := issuer.IssueAccess(userID, role)
	require.NoError(t, err)
	return "Bearer " + token
}

func doRequest(mux *http.ServeMux, method, path, authHeader, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCoursesRequireAuthentication(t *testing.T) {
	mux := newTestMux(&stubStore{})

	rec := doRequest(mux, http.MethodGet, "/courses", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateCourseRoleGate(t *testing.T) {
	store := &stubStore{}
	mux := newTestMux(store)
	body := `{"code":"CS-101","name":"Distributed Systems","instructor":"Dr. Reyes","capacity":40}`

	rec := doRequest(mux, http.MethodPost, "/courses", bearerFor(t, 2, auth.RoleStudent), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(mux, http.MethodPost, "/courses", bearerFor(t, 1, auth.RoleFaculty), body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created records.Course
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "CS-101", created.Code)
	assert.Equal(t, "Distributed Systems", created.Name)
}

func TestCreateCourseValidation(t *testing.T) {
	mux := newTestMux(&stubStore{})
	faculty := bearerFor(t, 1, auth.RoleFaculty)

	testCases := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"bad code", `{"code":"!!","name":"Algorithms","capacity":10}`},
		{"missing name", `{"code":"CS-201","name":"","capacity":10}`},
		{"negative capacity", `{"code":"CS-201","name":"Algorithms","capacity":-3}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(mux, http.MethodPost, "/courses", faculty, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestUpdateCourseNotFound(t *testing.T) {
	mux := newTestMux(&stubStore{})
	body := `{"code":"CS-301","name":"Compilers","capacity":25}`

	rec := doRequest(mux, http.MethodPut, "/courses/99", bearerFor(t, 1, auth.RoleFaculty), body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteCourseRequiresAuditAdmin(t *testing.T) {
	mux := newTestMux(&stubStore{})

	rec := doRequest(mux, http.MethodDelete, "/courses/1", bearerFor(t, 1, auth.RoleFaculty), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(mux, http.MethodDelete, "/courses/1", bearerFor(t, 3, auth.RoleCourseAuditAdmin), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEnrollUsesAuthenticatedStudent(t *testing.T) {
	store := &stubStore{}
	mux := newTestMux(store)

	rec := doRequest(mux, http.MethodPost, "/courses/5/enroll", bearerFor(t, 42, auth.RoleStudent), "")
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, store.enrollments, 1)
	assert.Equal(t, int64(42), store.enrollments[0].StudentID)
	assert.Equal(t, int64(5), store.enrollments[0].CourseID)
}

func TestMyGradesScopedToCaller(t *testing.T) {
	store := &stubStore{grades: []records.Grade{{ID: 1, StudentID: 42, CourseID: 5, GradeValue: "A-"}}}
	mux := newTestMux(store)

	rec := doRequest(mux, http.MethodGet, "/grades", bearerFor(t, 42, auth.RoleStudent), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), store.gradesRequestedFor)
	assert.Contains(t, rec.Body.String(), `"grade_value":"A-"`)
}

func TestUploadGrades(t *testing.T) {
	store := &stubStore{}
	mux := newTestMux(store)
	faculty := bearerFor(t, 9, auth.RoleFaculty)

	body := `{"entries":[{"student_id":42,"grade_value":"B+"},{"student_id":43,"grade_value":"A"}]}`
	rec := doRequest(mux, http.MethodPost, "/courses/5/grades", faculty, body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, int64(5), store.lastUploadCourseID)
	assert.Equal(t, int64(9), store.lastUploadedBy)
	require.Len(t, store.lastEntries, 2)
	assert.Equal(t, int64(42), store.lastEntries[0].StudentID)
}

func TestUploadGradesValidation(t *testing.T) {
	mux := newTestMux(&stubStore{})
	faculty := bearerFor(t, 9, auth.RoleFaculty)

	testCases := []struct {
		name string
		body string
	}{
		{"empty entries", `{"entries":[]}`},
		{"bad student id", `{"entries":[{"student_id":0,"grade_value":"A"}]}`},
		{"bad grade value", `{"entries":[{"student_id":42,"grade_value":"Z9"}]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(mux, http.MethodPost, "/courses/5/grades", faculty, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
