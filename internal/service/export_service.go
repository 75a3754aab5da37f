package service

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classroom-client/internal/models"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
	"github.com/noah-isme/classroom-client/pkg/export"
)

// ExportFormat selects the rendered document type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type currentViewSource interface {
	CurrentView() *models.ClassroomView
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title, subtitle string) ([]byte, error)
}

// ExportResult is a rendered document ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders the current classroom view as a CSV or PDF overview.
type ExportService struct {
	views   currentViewSource
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	enabled bool
}

// NewExportService constructs an ExportService.
func NewExportService(views currentViewSource, enabled bool, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{views: views, csv: csv, pdf: pdf, logger: logger, enabled: enabled}
}

var exportHeaders = []string{"Section", "Group", "Title", "Type", "Status", "Date"}

// Export renders the current view in format.
func (s *ExportService) Export(format ExportFormat) (*ExportResult, error) {
	if !s.enabled {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled")
	}
	view := s.views.CurrentView()
	if view == nil {
		return nil, appErrors.Clone(appErrors.ErrNoClassroom, "no classroom view to export")
	}

	dataset := buildDataset(view)
	base := exportBaseName(view.Classroom)

	var (
		payload []byte
		err     error
		result  ExportResult
	)
	switch ExportFormat(strings.ToLower(string(format))) {
	case ExportFormatCSV, "":
		payload, err = s.csv.Render(dataset)
		result = ExportResult{Filename: base + ".csv", ContentType: "text/csv"}
	case ExportFormatPDF:
		subtitle := fmt.Sprintf("Teacher: %s | Generated %s", nonEmpty(view.Classroom.TeacherName, "-"), view.FetchedAt.Format(time.RFC1123))
		payload, err = s.pdf.Render(dataset, view.Classroom.Name, subtitle)
		result = ExportResult{Filename: base + ".pdf", ContentType: "application/pdf"}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		s.logger.Error("failed to render classroom export", zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to render export")
	}
	result.Payload = payload
	return &result, nil
}

func buildDataset(view *models.ClassroomView) export.Dataset {
	rows := make([][]string, 0, len(view.Materials)+len(view.Assignments))
	for _, lesson := range view.Lessons {
		for _, material := range lesson.Materials {
			rows = append(rows, []string{"Material", lesson.Name, material.Title, material.Type, "", formatDate(material.CreatedAt)})
		}
	}
	for _, assignment := range view.Assignments {
		rows = append(rows, []string{"Assignment", string(assignment.Kind), assignment.Title, "", string(assignment.Status), formatDate(assignment.DueDate)})
	}
	return export.Dataset{Headers: exportHeaders, Rows: rows}
}

func exportBaseName(classroom models.Classroom) string {
	name := strings.ToLower(strings.TrimSpace(nonEmpty(classroom.Name, classroom.ID)))
	name = strings.Join(strings.FieldsFunc(name, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}), "-")
	if name == "" {
		name = "classroom"
	}
	return name
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
