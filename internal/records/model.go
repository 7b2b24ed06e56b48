package records

import "time"

type Course struct {
	ID         int64     `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Instructor string    `json:"instructor,omitempty"`
	Capacity   int       `json:"capacity"`
	CreatedAt  time.Time `json:"created_at"`
}

type CourseInput struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Instructor string `json:"instructor"`
	Capacity   int    `json:"capacity"`
}

type Enrollment struct {
	ID         int64     `json:"id"`
	StudentID  int64     `json:"student_id"`
	CourseID   int64     `json:"course_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

type Grade struct {
	ID         int64     `json:"id"`
	StudentID  int64     `json:"student_id"`
	CourseID   int64     `json:"course_id"`
	GradeValue string    `json:"grade_value"`
	Semester   *string   `json:"semester,omitempty"`
	UploadedBy *int64    `json:"uploaded_by,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// GradeEntry is one row of a faculty batch upload.
type GradeEntry struct {
	StudentID  int64  `json:"student_id"`
	GradeValue string `json:"grade_value"`
	Semester   string `json:"semester,omitempty"`
}
