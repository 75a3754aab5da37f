package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/classroom-client/internal/models"
)

// flexString accepts JSON strings and numbers; ids come back as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexTime accepts RFC3339 strings, plain dates, epoch milliseconds and
// Firestore style {"_seconds": n} objects. Anything else decodes to zero.
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	f.Time = time.Time{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f.Time = parseTimeString(s)
	case '{':
		var ts struct {
			Seconds int64 `json:"_seconds"`
			Nanos   int64 `json:"_nanoseconds"`
		}
		if err := json.Unmarshal(data, &ts); err == nil && ts.Seconds > 0 {
			f.Time = time.Unix(ts.Seconds, ts.Nanos).UTC()
		}
	default:
		if ms, err := strconv.ParseInt(string(data), 10, 64); err == nil && ms > 0 {
			f.Time = time.UnixMilli(ms).UTC()
		}
	}
	return nil
}

func (f flexTime) ptr() *time.Time {
	if f.IsZero() {
		return nil
	}
	t := f.Time
	return &t
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseTimeString(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type loginUser struct {
	UID         flexString `json:"uid"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	Name        string     `json:"name"`
	PhoneNumber flexString `json:"phoneNumber"`
	Phone       flexString `json:"phone"`
}

type loginPayload struct {
	Token   string     `json:"token"`
	IDToken string     `json:"idToken"`
	User    *loginUser `json:"user"`
	LocalID flexString `json:"localId"`
	loginUser
}

// normalize prefers the nested user object and falls back to top-level fields.
func (p loginPayload) normalize() models.LoginResult {
	nested := loginUser{}
	if p.User != nil {
		nested = *p.User
	}
	return models.LoginResult{
		Token: firstNonEmpty(p.Token, p.IDToken),
		User: models.User{
			UID:   firstNonEmpty(string(nested.UID), string(p.UID), string(p.LocalID)),
			Email: firstNonEmpty(nested.Email, p.Email),
			Name:  firstNonEmpty(nested.DisplayName, nested.Name, p.DisplayName, p.Name),
			Phone: firstNonEmpty(string(nested.PhoneNumber), string(nested.Phone), string(p.PhoneNumber), string(p.Phone)),
		},
	}
}

type joinPayload struct {
	ClassroomID flexString `json:"classroomId"`
	ID          flexString `json:"id"`
}

// normalize falls back to the submitted code when the service echoes no id.
func (p joinPayload) normalize(code string) models.JoinResult {
	return models.JoinResult{ClassroomID: firstNonEmpty(string(p.ClassroomID), string(p.ID), code)}
}

type classroomPayload struct {
	ID          flexString `json:"id"`
	Name        string     `json:"name"`
	Teacher     string     `json:"teacher"`
	TeacherName string     `json:"teacherName"`
	Description string     `json:"description"`
}

func (p classroomPayload) normalize(requestedID string) models.Classroom {
	return models.Classroom{
		ID:          firstNonEmpty(string(p.ID), requestedID),
		Name:        strings.TrimSpace(p.Name),
		TeacherName: strings.TrimSpace(firstNonEmpty(p.Teacher, p.TeacherName)),
		Description: strings.TrimSpace(p.Description),
	}
}

type materialPayload struct {
	ID          flexString `json:"id"`
	Title       string     `json:"title"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	URL         string     `json:"url"`
	Description string     `json:"description"`
	CreatedAt   flexTime   `json:"createdAt"`
	Lesson      string     `json:"lesson"`
	Section     string     `json:"section"`
}

func (p materialPayload) normalize() models.Material {
	return models.Material{
		ID:          string(p.ID),
		Title:       firstNonEmpty(p.Title, p.Name),
		Type:        p.Type,
		URL:         strings.TrimSpace(p.URL),
		Description: p.Description,
		CreatedAt:   p.CreatedAt.ptr(),
		Lesson:      strings.TrimSpace(firstNonEmpty(p.Lesson, p.Section)),
	}
}

type assignmentPayload struct {
	ID          flexString `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     flexTime   `json:"dueDate"`
	Status      string     `json:"status"`
}

// normalize stamps the kind of the list the assignment was fetched from. Status
// is taken as reported; only a missing or unknown value becomes pending.
func (p assignmentPayload) normalize(kind models.AssignmentKind) models.Assignment {
	return models.Assignment{
		ID:          string(p.ID),
		Title:       p.Title,
		Description: p.Description,
		DueDate:     p.DueDate.ptr(),
		Kind:        kind,
		Status:      normalizeStatus(p.Status),
	}
}

func normalizeStatus(raw string) models.AssignmentStatus {
	switch status := models.AssignmentStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case models.AssignmentStatusCompleted, models.AssignmentStatusOverdue, models.AssignmentStatusPending:
		return status
	default:
		return models.AssignmentStatusPending
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
