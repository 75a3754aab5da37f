package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-client/internal/models"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
	"github.com/noah-isme/classroom-client/pkg/response"
)

type submissionService interface {
	Draft(assignmentID string) (*models.SubmissionDraft, error)
	AttachPicked(assignmentID string, pick models.PickResult) (*models.SubmissionDraft, error)
	Detach(assignmentID string, index int) (*models.SubmissionDraft, error)
	Submit(assignmentID string) (*models.SubmissionDraft, error)
	Unsubmit(assignmentID string) (*models.SubmissionDraft, error)
}

// SubmissionHandler exposes the local assignment submission drafts.
type SubmissionHandler struct {
	service submissionService
}

// NewSubmissionHandler builds a new handler.
func NewSubmissionHandler(svc submissionService) *SubmissionHandler {
	return &SubmissionHandler{service: svc}
}

// Draft godoc
// @Summary Submission draft for an assignment
// @Tags Submissions
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/draft [get]
func (h *SubmissionHandler) Draft(c *gin.Context) {
	h.reply(c)(h.service.Draft(c.Param("id")))
}

// Attach godoc
// @Summary Attach a picked file
// @Description Accepts one document picker result. A canceled pick leaves the draft unchanged.
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body models.PickResult true "Picker result"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id}/files [post]
func (h *SubmissionHandler) Attach(c *gin.Context) {
	var pick models.PickResult
	if err := c.ShouldBindJSON(&pick); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid file payload"))
		return
	}
	h.reply(c)(h.service.AttachPicked(c.Param("id"), pick))
}

// Detach godoc
// @Summary Remove an attached file
// @Tags Submissions
// @Produce json
// @Param id path string true "Assignment ID"
// @Param index path int true "Position in the attached list"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /assignments/{id}/files/{index} [delete]
func (h *SubmissionHandler) Detach(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrIndex.Code, appErrors.ErrIndex.Status, "index must be a number"))
		return
	}
	h.reply(c)(h.service.Detach(c.Param("id"), index))
}

// Submit godoc
// @Summary Submit an assignment
// @Tags Submissions
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /assignments/{id}/submit [post]
func (h *SubmissionHandler) Submit(c *gin.Context) {
	h.reply(c)(h.service.Submit(c.Param("id")))
}

// Unsubmit godoc
// @Summary Withdraw a submission
// @Tags Submissions
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id}/unsubmit [post]
func (h *SubmissionHandler) Unsubmit(c *gin.Context) {
	h.reply(c)(h.service.Unsubmit(c.Param("id")))
}

func (h *SubmissionHandler) reply(c *gin.Context) func(*models.SubmissionDraft, error) {
	return func(draft *models.SubmissionDraft, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, draft)
	}
}
