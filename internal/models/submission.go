package models

// SubmissionState is the local state of an assignment's attachment set.
type SubmissionState string

const (
	SubmissionStateDraft     SubmissionState = "draft"
	SubmissionStateSubmitted SubmissionState = "submitted"
)

// FileRef points at a file chosen with the document picker.
type FileRef struct {
	Name      string `json:"name" validate:"required"`
	SizeBytes *int64 `json:"sizeBytes,omitempty" validate:"omitempty,gte=0"`
	URI       string `json:"uri" validate:"required"`
}

// PickResult is one document picker invocation. A canceled pick carries no file.
type PickResult struct {
	Canceled bool     `json:"canceled"`
	File     *FileRef `json:"file,omitempty"`
}

// SubmissionDraft is a read-only snapshot of one assignment's submission state.
type SubmissionDraft struct {
	AssignmentID  string          `json:"assignmentId"`
	State         SubmissionState `json:"state"`
	AttachedFiles []FileRef       `json:"attachedFiles"`
	Submitted     bool            `json:"submitted"`
}
