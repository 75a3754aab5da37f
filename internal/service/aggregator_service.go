package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/classroom-client/internal/models"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
)

type classroomGateway interface {
	GetClassroomDetails(ctx context.Context, classroomID string) (*models.Classroom, error)
	GetClassroomMaterials(ctx context.Context, classroomID string) ([]models.Material, error)
	GetAssignments(ctx context.Context, classroomID string, kind models.AssignmentKind) ([]models.Assignment, error)
}

// AggregatorService builds a ClassroomView from four concurrent gateway calls.
// It holds no state and is safe to call repeatedly.
type AggregatorService struct {
	gateway classroomGateway
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewAggregatorService constructs an AggregatorService.
func NewAggregatorService(gateway classroomGateway, metrics *MetricsService, logger *zap.Logger) *AggregatorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AggregatorService{gateway: gateway, metrics: metrics, logger: logger, now: time.Now}
}

// FetchClassroomView fails only when details or materials cannot be loaded. A
// failed assignment kind contributes an empty list.
func (s *AggregatorService) FetchClassroomView(ctx context.Context, classroomID string) (*models.ClassroomView, error) {
	var (
		classroom  *models.Classroom
		materials  []models.Material
		practice   []models.Assignment
		submission []models.Assignment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		classroom, err = s.gateway.GetClassroomDetails(gctx, classroomID)
		return asGatewayError(err, "failed to load classroom details")
	})
	g.Go(func() error {
		var err error
		materials, err = s.gateway.GetClassroomMaterials(gctx, classroomID)
		return asGatewayError(err, "failed to load classroom materials")
	})
	g.Go(func() error {
		practice = s.fetchAssignments(gctx, classroomID, models.AssignmentKindPractice)
		return nil
	})
	g.Go(func() error {
		submission = s.fetchAssignments(gctx, classroomID, models.AssignmentKindSubmission)
		return nil
	})

	if err := g.Wait(); err != nil {
		s.metrics.RecordAggregation(false)
		s.logger.Warn("classroom aggregation failed", zap.String("classroom_id", classroomID), zap.Error(err))
		return nil, err
	}
	if classroom == nil {
		s.metrics.RecordAggregation(false)
		return nil, appErrors.Clone(appErrors.ErrGateway, "classroom details response was empty")
	}

	assignments := make([]models.Assignment, 0, len(practice)+len(submission))
	assignments = append(assignments, practice...)
	assignments = append(assignments, submission...)

	if materials == nil {
		materials = []models.Material{}
	}

	s.metrics.RecordAggregation(true)
	return &models.ClassroomView{
		Classroom:   *classroom,
		Materials:   materials,
		Lessons:     groupByLesson(materials),
		Assignments: assignments,
		FetchedAt:   s.now().UTC(),
	}, nil
}

func (s *AggregatorService) fetchAssignments(ctx context.Context, classroomID string, kind models.AssignmentKind) []models.Assignment {
	items, err := s.gateway.GetAssignments(ctx, classroomID, kind)
	if err != nil {
		s.metrics.RecordDegradedFetch(string(kind))
		s.logger.Warn("assignments unavailable",
			zap.String("classroom_id", classroomID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return nil
	}
	return items
}

// groupByLesson buckets materials by lesson in first-seen order. Materials
// without a lesson land in the default bucket so grouping is always total.
func groupByLesson(materials []models.Material) []models.Lesson {
	lessons := make([]models.Lesson, 0)
	index := make(map[string]int)
	for _, material := range materials {
		name := material.Lesson
		if name == "" {
			name = models.DefaultLesson
		}
		pos, ok := index[name]
		if !ok {
			pos = len(lessons)
			index[name] = pos
			lessons = append(lessons, models.Lesson{Name: name})
		}
		lessons[pos].Materials = append(lessons[pos].Materials, material)
	}
	return lessons
}

func asGatewayError(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, appErrors.ErrGateway) {
		return err
	}
	return appErrors.WrapAs(appErrors.ErrGateway, err, message)
}
