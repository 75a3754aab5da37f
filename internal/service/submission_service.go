package service

import (
	"context"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-client/internal/models"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
)

// SubmissionConfig tunes the submission state machine.
type SubmissionConfig struct {
	// ClearOnUnsubmit discards attached files when a submission is withdrawn.
	ClearOnUnsubmit bool
}

type draft struct {
	state models.SubmissionState
	files []models.FileRef
}

// SubmissionService keeps per-assignment attachment state in memory. Nothing
// is sent to the classroom service; drafts do not survive a restart.
type SubmissionService struct {
	validator *validator.Validate
	logger    *zap.Logger
	cfg       SubmissionConfig

	mu     sync.Mutex
	drafts map[string]*draft
}

// NewSubmissionService constructs a SubmissionService.
func NewSubmissionService(validate *validator.Validate, cfg SubmissionConfig, logger *zap.Logger) *SubmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{validator: validate, logger: logger, cfg: cfg, drafts: make(map[string]*draft)}
}

// Draft returns the current state for assignmentID. Unknown assignments are
// empty drafts.
func (s *SubmissionService) Draft(assignmentID string) (*models.SubmissionDraft, error) {
	id, err := normalizeAssignmentID(assignmentID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(id, s.drafts[id]), nil
}

// Attach appends file to a draft. No dedup and no size limit.
func (s *SubmissionService) Attach(assignmentID string, file models.FileRef) (*models.SubmissionDraft, error) {
	id, err := normalizeAssignmentID(assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(file); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrValidation, err, "file name and uri are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.draftLocked(id)
	if d.state != models.SubmissionStateDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assignment already submitted")
	}
	d.files = append(d.files, file)
	return s.snapshotLocked(id, d), nil
}

// AttachPicked applies one document picker result. A canceled pick is not an
// error and leaves the draft unchanged.
func (s *SubmissionService) AttachPicked(assignmentID string, pick models.PickResult) (*models.SubmissionDraft, error) {
	if pick.Canceled || pick.File == nil {
		return s.Draft(assignmentID)
	}
	return s.Attach(assignmentID, *pick.File)
}

// Detach removes the file at index from a draft.
func (s *SubmissionService) Detach(assignmentID string, index int) (*models.SubmissionDraft, error) {
	id, err := normalizeAssignmentID(assignmentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.draftLocked(id)
	if d.state != models.SubmissionStateDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assignment already submitted")
	}
	if index < 0 || index >= len(d.files) {
		return nil, appErrors.Clone(appErrors.ErrIndex, "no attached file at that position")
	}
	d.files = append(d.files[:index:index], d.files[index+1:]...)
	return s.snapshotLocked(id, d), nil
}

// Submit moves a draft with at least one file to Submitted.
func (s *SubmissionService) Submit(assignmentID string) (*models.SubmissionDraft, error) {
	id, err := normalizeAssignmentID(assignmentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.draftLocked(id)
	if d.state == models.SubmissionStateSubmitted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assignment already submitted")
	}
	if len(d.files) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no files attached")
	}
	d.state = models.SubmissionStateSubmitted
	s.logger.Debug("assignment submitted locally", zap.String("assignment_id", id), zap.Int("files", len(d.files)))
	return s.snapshotLocked(id, d), nil
}

// Unsubmit returns a submitted assignment to Draft. Attached files are kept
// unless ClearOnUnsubmit is set.
func (s *SubmissionService) Unsubmit(assignmentID string) (*models.SubmissionDraft, error) {
	id, err := normalizeAssignmentID(assignmentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.draftLocked(id)
	if d.state != models.SubmissionStateSubmitted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assignment is not submitted")
	}
	d.state = models.SubmissionStateDraft
	if s.cfg.ClearOnUnsubmit {
		d.files = nil
	}
	return s.snapshotLocked(id, d), nil
}

// Reset forgets every draft. It runs when the classroom changes or the student
// signs out.
func (s *SubmissionService) Reset(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts = make(map[string]*draft)
}

func (s *SubmissionService) draftLocked(id string) *draft {
	d, ok := s.drafts[id]
	if !ok {
		d = &draft{state: models.SubmissionStateDraft}
		s.drafts[id] = d
	}
	return d
}

func (s *SubmissionService) snapshotLocked(id string, d *draft) *models.SubmissionDraft {
	out := &models.SubmissionDraft{
		AssignmentID:  id,
		State:         models.SubmissionStateDraft,
		AttachedFiles: []models.FileRef{},
	}
	if d == nil {
		return out
	}
	out.State = d.state
	out.Submitted = d.state == models.SubmissionStateSubmitted
	out.AttachedFiles = append(out.AttachedFiles, d.files...)
	return out
}

func normalizeAssignmentID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "assignmentId is required")
	}
	return id, nil
}
