package auth

import "strings"

// Role is the application role stored on the profile document.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleUnknown Role = "unknown"
)

// Default landing paths.
const (
	PathHome             = "/"
	PathLogin            = "/login"
	PathAdmin            = "/admin"
	PathTeacherDashboard = "/teacher/dashboard"
	PathStudentDashboard = "/student/dashboard"
)

var roleRedirects = map[Role]string{
	RoleAdmin:   PathAdmin,
	RoleTeacher: PathTeacherDashboard,
	RoleStudent: PathStudentDashboard,
}

// ParseRole maps stored values onto the known roles. Anything else is
// RoleUnknown.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return r
	default:
		return RoleUnknown
	}
}

// IsValid checks if the role is one of the assignable roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// RedirectTarget is the post login landing path for the role.
func (r Role) RedirectTarget() string {
	if path, ok := roleRedirects[r]; ok {
		return path
	}
	return PathHome
}

// RedirectFor returns the landing path for a profile, or "" when there is no
// profile.
func RedirectFor(profile *UserProfile) string {
	if profile == nil {
		return ""
	}
	return profile.Role.RedirectTarget()
}
