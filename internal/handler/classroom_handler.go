package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-client/internal/models"
	"github.com/noah-isme/classroom-client/internal/service"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
	"github.com/noah-isme/classroom-client/pkg/response"
)

type classroomService interface {
	Initialize(ctx context.Context) (*models.ClassroomState, error)
	Join(ctx context.Context, code string) (*models.ClassroomState, error)
	Leave(ctx context.Context) (*models.ClassroomState, error)
	Refresh(ctx context.Context) (*models.ClassroomState, error)
	Current() *models.ClassroomState
}

type exportService interface {
	Export(format service.ExportFormat) (*service.ExportResult, error)
}

// ClassroomHandler exposes the current classroom lifecycle.
type ClassroomHandler struct {
	service classroomService
	exports exportService
}

// NewClassroomHandler builds a new handler.
func NewClassroomHandler(svc classroomService, exports exportService) *ClassroomHandler {
	return &ClassroomHandler{service: svc, exports: exports}
}

// Initialize godoc
// @Summary Load the persisted classroom
// @Description Reads the stored classroom id and aggregates its view. On failure the
// @Description body still carries the retained or unavailable state in meta.
// @Tags Classroom
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /classroom/initialize [post]
func (h *ClassroomHandler) Initialize(c *gin.Context) {
	state, err := h.service.Initialize(c.Request.Context())
	h.respond(c, state, err)
}

// Get godoc
// @Summary Current classroom state
// @Tags Classroom
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /classroom [get]
func (h *ClassroomHandler) Get(c *gin.Context) {
	response.OK(c, h.service.Current())
}

// Join godoc
// @Summary Join a classroom by code
// @Tags Classroom
// @Accept json
// @Produce json
// @Param payload body models.JoinRequest true "Class code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /classroom/join [post]
func (h *ClassroomHandler) Join(c *gin.Context) {
	var req models.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join payload"))
		return
	}
	state, err := h.service.Join(c.Request.Context(), req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, state)
}

// Leave godoc
// @Summary Leave the current classroom
// @Tags Classroom
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /classroom [delete]
func (h *ClassroomHandler) Leave(c *gin.Context) {
	state, err := h.service.Leave(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, state)
}

// Refresh godoc
// @Summary Refresh the current classroom
// @Tags Classroom
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /classroom/refresh [post]
func (h *ClassroomHandler) Refresh(c *gin.Context) {
	state, err := h.service.Refresh(c.Request.Context())
	h.respond(c, state, err)
}

// Export godoc
// @Summary Export the current classroom view
// @Tags Classroom
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 409 {object} response.Envelope
// @Router /classroom/export [get]
func (h *ClassroomHandler) Export(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	result, err := h.exports.Export(service.ExportFormat(c.DefaultQuery("format", string(service.ExportFormatCSV))))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}

// respond reports err with the state the controller settled in, so the client
// can keep rendering a retained or stale view next to the error.
func (h *ClassroomHandler) respond(c *gin.Context, state *models.ClassroomState, err error) {
	if err == nil {
		response.OK(c, state)
		return
	}
	appErr := appErrors.FromError(err)
	_ = c.Error(err)
	c.Header("Cache-Control", "no-store")
	envelope := response.Envelope{Error: appErr}
	if state != nil {
		envelope.Meta = map[string]interface{}{"state": state}
	}
	c.JSON(appErr.Status, envelope)
}
