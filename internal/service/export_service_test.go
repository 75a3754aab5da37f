package service

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-client/internal/models"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
)

type staticViews struct {
	view *models.ClassroomView
}

func (s staticViews) CurrentView() *models.ClassroomView { return s.view }

func exportView() *models.ClassroomView {
	due := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	materials := []models.Material{{Title: "Syllabus", Type: "pdf", Lesson: "Intro"}, {Title: "Slides", Type: "link"}}
	return &models.ClassroomView{
		Classroom: models.Classroom{ID: "ABC123", Name: "Mobile Dev", TeacherName: "Mrs. Veneat"},
		Materials: materials,
		Lessons: []models.Lesson{
			{Name: "Intro", Materials: materials[:1]},
			{Name: models.DefaultLesson, Materials: materials[1:]},
		},
		Assignments: []models.Assignment{
			{ID: "1", Title: "Quiz", Kind: models.AssignmentKindPractice, Status: models.AssignmentStatusPending, DueDate: &due},
		},
		FetchedAt: time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestExportCSV(t *testing.T) {
	svc := NewExportService(staticViews{view: exportView()}, true, nil, nil, nil)

	res, err := svc.Export(ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "mobile-dev.csv", res.Filename)
	assert.Equal(t, "text/csv", res.ContentType)
	assert.Equal(t, "Section,Group,Title,Type,Status,Date\n"+
		"Material,Intro,Syllabus,pdf,,\n"+
		"Material,Lesson 1,Slides,link,,\n"+
		"Assignment,practice,Quiz,,pending,2025-02-10\n", string(res.Payload))
}

func TestExportPDF(t *testing.T) {
	svc := NewExportService(staticViews{view: exportView()}, true, nil, nil, nil)

	res, err := svc.Export(ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "mobile-dev.pdf", res.Filename)
	assert.True(t, bytes.HasPrefix(res.Payload, []byte("%PDF-")))
}

func TestExportWithoutViewIsNoClassroom(t *testing.T) {
	svc := NewExportService(staticViews{}, true, nil, nil, nil)

	_, err := svc.Export(ExportFormatCSV)
	assert.True(t, errors.Is(err, appErrors.ErrNoClassroom))
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(staticViews{view: exportView()}, true, nil, nil, nil)

	_, err := svc.Export("xlsx")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestExportDisabled(t *testing.T) {
	svc := NewExportService(staticViews{view: exportView()}, false, nil, nil, nil)

	_, err := svc.Export(ExportFormatCSV)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
