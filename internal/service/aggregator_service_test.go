package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-client/internal/models"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
)

type fakeClassroomGateway struct {
	mu sync.Mutex

	classroom     *models.Classroom
	materials     []models.Material
	assignments   map[models.AssignmentKind][]models.Assignment
	detailsErr    error
	materialsErr  error
	assignmentErr map[models.AssignmentKind]error
	calls         []string
}

func (f *fakeClassroomGateway) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeClassroomGateway) GetClassroomDetails(ctx context.Context, id string) (*models.Classroom, error) {
	f.record("details:" + id)
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	c := *f.classroom
	return &c, nil
}

func (f *fakeClassroomGateway) GetClassroomMaterials(ctx context.Context, id string) ([]models.Material, error) {
	f.record("materials:" + id)
	if f.materialsErr != nil {
		return nil, f.materialsErr
	}
	return f.materials, nil
}

func (f *fakeClassroomGateway) GetAssignments(ctx context.Context, id string, kind models.AssignmentKind) ([]models.Assignment, error) {
	f.record("assignments_" + string(kind) + ":" + id)
	if err := f.assignmentErr[kind]; err != nil {
		return nil, err
	}
	return f.assignments[kind], nil
}

func scenarioGateway() *fakeClassroomGateway {
	return &fakeClassroomGateway{
		classroom: &models.Classroom{ID: "ABC123", Name: "Mobile Dev"},
		materials: []models.Material{
			{ID: "m1", Title: "Syllabus", Lesson: "Intro"},
			{ID: "m2", Title: "Slides"},
		},
		assignments: map[models.AssignmentKind][]models.Assignment{
			models.AssignmentKindPractice: {
				{ID: "1", Kind: models.AssignmentKindPractice, Status: models.AssignmentStatusPending},
			},
			models.AssignmentKindSubmission: {
				{ID: "2", Kind: models.AssignmentKindSubmission, Status: models.AssignmentStatusCompleted},
			},
		},
	}
}

func assignmentIDs(view *models.ClassroomView) []string {
	ids := make([]string, 0, len(view.Assignments))
	for _, a := range view.Assignments {
		ids = append(ids, a.ID)
	}
	return ids
}

func materialTitles(materials []models.Material) []string {
	titles := make([]string, 0, len(materials))
	for _, m := range materials {
		titles = append(titles, m.Title)
	}
	return titles
}

func TestFetchClassroomViewScenario(t *testing.T) {
	gw := scenarioGateway()
	svc := NewAggregatorService(gw, NewMetricsService(), nil)

	view, err := svc.FetchClassroomView(context.Background(), "ABC123")
	require.NoError(t, err)

	assert.Equal(t, "Mobile Dev", view.Classroom.Name)
	byLesson := view.MaterialsByLesson()
	require.Len(t, byLesson, 2)
	assert.Equal(t, []string{"Syllabus"}, materialTitles(byLesson["Intro"]))
	assert.Equal(t, []string{"Slides"}, materialTitles(byLesson[models.DefaultLesson]))
	assert.Equal(t, []string{"Intro", models.DefaultLesson}, view.LessonNames())
	assert.Equal(t, []string{"1", "2"}, assignmentIDs(view))
	assert.False(t, view.FetchedAt.IsZero())
	assert.Len(t, gw.calls, 4)
}

func TestFetchClassroomViewConcatenatesPracticeThenSubmission(t *testing.T) {
	gw := scenarioGateway()
	gw.assignments = map[models.AssignmentKind][]models.Assignment{
		models.AssignmentKindPractice:   {{ID: "p9"}, {ID: "p1"}, {ID: "dup"}},
		models.AssignmentKindSubmission: {{ID: "s5"}, {ID: "dup"}, {ID: "s0"}},
	}
	svc := NewAggregatorService(gw, nil, nil)

	view, err := svc.FetchClassroomView(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, []string{"p9", "p1", "dup", "s5", "dup", "s0"}, assignmentIDs(view))
}

func TestFetchClassroomViewToleratesAssignmentFailures(t *testing.T) {
	cases := map[string]struct {
		failing  models.AssignmentKind
		expected []string
	}{
		"submission fails": {failing: models.AssignmentKindSubmission, expected: []string{"p1", "p2"}},
		"practice fails":   {failing: models.AssignmentKindPractice, expected: []string{"s1"}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			gw := scenarioGateway()
			gw.assignments = map[models.AssignmentKind][]models.Assignment{
				models.AssignmentKindPractice:   {{ID: "p1"}, {ID: "p2"}},
				models.AssignmentKindSubmission: {{ID: "s1"}},
			}
			gw.assignmentErr = map[models.AssignmentKind]error{tc.failing: errors.New("boom")}
			svc := NewAggregatorService(gw, NewMetricsService(), nil)

			view, err := svc.FetchClassroomView(context.Background(), "ABC123")
			require.NoError(t, err)
			assert.Equal(t, tc.expected, assignmentIDs(view))
		})
	}
}

func TestFetchClassroomViewBothAssignmentKindsFailing(t *testing.T) {
	gw := scenarioGateway()
	gw.assignmentErr = map[models.AssignmentKind]error{
		models.AssignmentKindPractice:   errors.New("down"),
		models.AssignmentKindSubmission: errors.New("down"),
	}
	svc := NewAggregatorService(gw, nil, nil)

	view, err := svc.FetchClassroomView(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.NotNil(t, view.Assignments)
	assert.Empty(t, view.Assignments)
}

func TestFetchClassroomViewDetailsFailureIsGatewayError(t *testing.T) {
	gw := scenarioGateway()
	gw.detailsErr = errors.New("connection refused")
	svc := NewAggregatorService(gw, nil, nil)

	view, err := svc.FetchClassroomView(context.Background(), "ABC123")
	require.Error(t, err)
	assert.Nil(t, view)
	assert.True(t, errors.Is(err, appErrors.ErrGateway))
}

func TestFetchClassroomViewMaterialsFailureIsGatewayError(t *testing.T) {
	gw := scenarioGateway()
	gw.materialsErr = appErrors.Clone(appErrors.ErrGateway, "failed to load classroom materials")
	svc := NewAggregatorService(gw, nil, nil)

	_, err := svc.FetchClassroomView(context.Background(), "ABC123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrGateway))
	assert.Equal(t, "failed to load classroom materials", appErrors.FromError(err).Message)
}

func TestGroupByLessonCollapsesUnlabelledMaterials(t *testing.T) {
	materials := []models.Material{{Title: "a"}, {Title: "b"}, {Title: "c"}}

	lessons := groupByLesson(materials)
	require.Len(t, lessons, 1)
	assert.Equal(t, models.DefaultLesson, lessons[0].Name)
	assert.Equal(t, []string{"a", "b", "c"}, materialTitles(lessons[0].Materials))
}

func TestGroupByLessonKeepsFirstSeenOrder(t *testing.T) {
	materials := []models.Material{
		{Title: "w2-a", Lesson: "Week 2"},
		{Title: "w1-a", Lesson: "Week 1"},
		{Title: "w2-b", Lesson: "Week 2"},
		{Title: "loose"},
	}

	lessons := groupByLesson(materials)
	require.Len(t, lessons, 3)
	assert.Equal(t, "Week 2", lessons[0].Name)
	assert.Equal(t, []string{"w2-a", "w2-b"}, materialTitles(lessons[0].Materials))
	assert.Equal(t, "Week 1", lessons[1].Name)
	assert.Equal(t, models.DefaultLesson, lessons[2].Name)
}

func TestGroupByLessonEmpty(t *testing.T) {
	lessons := groupByLesson(nil)
	assert.NotNil(t, lessons)
	assert.Empty(t, lessons)
}
