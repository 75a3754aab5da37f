package models

import (
	"strings"
	"time"
)

// Persistent session store keys.
const (
	SessionKeyToken       = "token"
	SessionKeyUser        = "user"
	SessionKeyClassroomID = "currentClassroomId"
)

// LifecycleState is the state of the classroom session controller.
type LifecycleState string

const (
	StateNoClassroom LifecycleState = "no_classroom"
	StateLoading     LifecycleState = "loading"
	StateReady       LifecycleState = "ready"
	StateRefreshing  LifecycleState = "refreshing"
	// StateUnavailable means a classroom is joined but no view could be loaded.
	StateUnavailable LifecycleState = "unavailable"
)

// User is the authenticated student as returned by the login endpoint.
type User struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// DisplayName is the user's name, else the local part of the email, else
// "Student".
func (u *User) DisplayName() string {
	if u == nil {
		return "Student"
	}
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	if local == "" {
		return "Student"
	}
	return local
}

// LoginRequest holds credentials forwarded to the classroom service.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is what the gateway returns for a successful login.
type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// JoinRequest carries the class code typed by the student.
type JoinRequest struct {
	Code string `json:"code"`
}

// JoinResult resolves a class code to a classroom id.
type JoinResult struct {
	ClassroomID string `json:"classroomId"`
}

// Profile describes the signed-in student.
type Profile struct {
	Authenticated bool       `json:"authenticated"`
	User          *User      `json:"user,omitempty"`
	DisplayName   string     `json:"displayName"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// ClassroomState is the controller snapshot served to the UI.
type ClassroomState struct {
	State       LifecycleState     `json:"state"`
	ClassroomID string             `json:"classroomId,omitempty"`
	View        *ClassroomView     `json:"view,omitempty"`
	Summary     *AssignmentSummary `json:"summary,omitempty"`
	Stale       bool               `json:"stale"`
}
