package auth

import "time"

const (
	RoleStudent          = "student"
	RoleFaculty          = "faculty"
	RoleCourseAuditAdmin = "course_audit_admin"
)

// ValidRole reports whether role is one of the known platform roles. Roles
// are stored as open strings but validated at the boundary.
func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleFaculty, RoleCourseAuditAdmin:
		return true
	}
	return false
}

type User struct {
	ID                  int64
	Username            string
	Email               *string
	PasswordHash        string
	Role                string
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
}

// RefreshToken is the persisted record. Only the SHA-256 hash of the raw
// token is stored; the raw value exists transiently at issuance.
type RefreshToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	Revoked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Session is the result of a successful Login or Refresh. RefreshToken
// carries the raw refresh token and is set only when a new one was issued.
type Session struct {
	UserID           int64
	Username         string
	Role             string
	AccessToken      string
	ExpiresIn        int64
	RefreshToken     string
	RefreshExpiresAt time.Time
}
