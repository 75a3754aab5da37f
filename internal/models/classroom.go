package models

import "time"

// DefaultLesson is the bucket for materials that carry no lesson or section.
const DefaultLesson = "Lesson 1"

// AssignmentKind distinguishes the two independently fetched assignment lists.
type AssignmentKind string

const (
	AssignmentKindPractice   AssignmentKind = "practice"
	AssignmentKindSubmission AssignmentKind = "submission"
)

// AssignmentStatus is reported by the classroom service and never recomputed locally.
type AssignmentStatus string

const (
	AssignmentStatusPending   AssignmentStatus = "pending"
	AssignmentStatusCompleted AssignmentStatus = "completed"
	AssignmentStatusOverdue   AssignmentStatus = "overdue"
)

// Classroom is the course a student is enrolled in.
type Classroom struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TeacherName string `json:"teacherName"`
	Description string `json:"description,omitempty"`
}

// Material is a course resource posted by the teacher.
type Material struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Type        string     `json:"type"`
	URL         string     `json:"url,omitempty"`
	Description string     `json:"description,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	Lesson      string     `json:"lesson,omitempty"`
}

// Assignment is a task of either kind.
type Assignment struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	DueDate     *time.Time       `json:"dueDate,omitempty"`
	Kind        AssignmentKind   `json:"kind"`
	Status      AssignmentStatus `json:"status"`
}

// Lesson is one bucket of grouped materials.
type Lesson struct {
	Name      string     `json:"name"`
	Materials []Material `json:"materials"`
}

// AssignmentSummary holds the counters shown on the home screen.
type AssignmentSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Overdue   int `json:"overdue"`
}

// ClassroomView is the aggregate rendered by the UI. It is rebuilt wholesale on
// every aggregation and must not be mutated once published.
type ClassroomView struct {
	Classroom   Classroom    `json:"classroom"`
	Materials   []Material   `json:"materials"`
	Lessons     []Lesson     `json:"lessons"`
	Assignments []Assignment `json:"assignments"`
	FetchedAt   time.Time    `json:"fetchedAt"`
}

// MaterialsByLesson returns the lesson buckets keyed by name.
func (v *ClassroomView) MaterialsByLesson() map[string][]Material {
	out := make(map[string][]Material, len(v.Lessons))
	for _, lesson := range v.Lessons {
		out[lesson.Name] = lesson.Materials
	}
	return out
}

// LessonNames returns bucket names in first-seen order.
func (v *ClassroomView) LessonNames() []string {
	names := make([]string, 0, len(v.Lessons))
	for _, lesson := range v.Lessons {
		names = append(names, lesson.Name)
	}
	return names
}

// Summary counts assignments by their reported status.
func (v *ClassroomView) Summary() AssignmentSummary {
	summary := AssignmentSummary{Total: len(v.Assignments)}
	for _, a := range v.Assignments {
		switch a.Status {
		case AssignmentStatusCompleted:
			summary.Completed++
		case AssignmentStatusOverdue:
			summary.Overdue++
		case AssignmentStatusPending:
			summary.Pending++
		}
	}
	return summary
}
