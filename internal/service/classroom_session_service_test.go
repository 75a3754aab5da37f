package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-client/internal/models"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
)

type fakeFetcher struct {
	mu      sync.Mutex
	views   map[string]*models.ClassroomView
	errs    map[string]error
	calls   atomic.Int32
	release chan struct{}
	started chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{views: map[string]*models.ClassroomView{}, errs: map[string]error{}}
}

func (f *fakeFetcher) FetchClassroomView(ctx context.Context, id string) (*models.ClassroomView, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- id
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	view, ok := f.views[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrGateway, "unknown classroom")
	}
	return view, nil
}

func (f *fakeFetcher) set(id string, view *models.ClassroomView, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views[id] = view
	f.errs[id] = err
}

type fakeJoinGateway struct {
	ids   map[string]string
	err   error
	codes []string
}

func (f *fakeJoinGateway) JoinClassroom(ctx context.Context, code string) (*models.JoinResult, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.ids[code]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrJoin, "Invalid class code")
	}
	return &models.JoinResult{ClassroomID: id}, nil
}

type memoryCache struct {
	mu     sync.Mutex
	values map[string]*models.ClassroomView
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	view, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*(dest.(*models.ClassroomView)) = *view
	return nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	view := *(value.(*models.ClassroomView))
	m.values[key] = &view
	return nil
}

func (m *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.values {
		if pattern == key || (len(pattern) > 0 && pattern[len(pattern)-1] == '*' && len(key) >= len(pattern)-1 && key[:len(pattern)-1] == pattern[:len(pattern)-1]) {
			delete(m.values, key)
		}
	}
	return nil
}

type controllerFixture struct {
	store   *mapStore
	fetcher *fakeFetcher
	joiner  *fakeJoinGateway
	cache   *memoryCache
	svc     *ClassroomSessionService
}

func newControllerFixture(t *testing.T, withCache bool) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		store:   newMapStore(),
		fetcher: newFakeFetcher(),
		joiner:  &fakeJoinGateway{ids: map[string]string{}},
		cache:   &memoryCache{values: map[string]*models.ClassroomView{}},
	}
	var cache *CacheService
	if withCache {
		cache = NewCacheService(f.cache, nil, time.Hour, nil, true)
	}
	f.svc = NewClassroomSessionService(ClassroomSessionServiceParams{
		Session:    NewSession(f.store),
		Aggregator: f.fetcher,
		Gateway:    f.joiner,
		Cache:      cache,
		Metrics:    NewMetricsService(),
		Config:     ClassroomSessionConfig{Scope: "device-1"},
	})
	return f
}

// block makes subsequent fetches report on started and wait for release.
func (f *fakeFetcher) block() {
	f.started = make(chan string, 4)
	f.release = make(chan struct{})
}

func fetchWaiters(svc *ClassroomSessionService) float64 {
	return testutil.ToFloat64(svc.metrics.fetchWaiters)
}

func viewFor(id, name string) *models.ClassroomView {
	return &models.ClassroomView{
		Classroom:   models.Classroom{ID: id, Name: name},
		Materials:   []models.Material{},
		Lessons:     []models.Lesson{},
		Assignments: []models.Assignment{{ID: "1", Status: models.AssignmentStatusPending}},
		FetchedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestInitializeWithoutClassroom(t *testing.T) {
	f := newControllerFixture(t, false)

	state, err := f.svc.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateNoClassroom, state.State)
	assert.Nil(t, state.View)
	assert.Equal(t, int32(0), f.fetcher.calls.Load())
}

func TestInitializeLoadsPersistedClassroom(t *testing.T) {
	f := newControllerFixture(t, false)
	f.store.values[models.SessionKeyClassroomID] = "ABC123"
	f.fetcher.set("ABC123", viewFor("ABC123", "Mobile Dev"), nil)

	state, err := f.svc.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, state.State)
	assert.Equal(t, "ABC123", state.ClassroomID)
	assert.Equal(t, "Mobile Dev", state.View.Classroom.Name)
	require.NotNil(t, state.Summary)
	assert.Equal(t, 1, state.Summary.Pending)
}

func TestInitializeFailureWithoutPriorViewIsUnavailable(t *testing.T) {
	f := newControllerFixture(t, false)
	f.store.values[models.SessionKeyClassroomID] = "ABC123"
	f.fetcher.set("ABC123", nil, appErrors.Clone(appErrors.ErrGateway, "down"))

	state, err := f.svc.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrGateway))
	assert.Equal(t, models.StateUnavailable, state.State)
	assert.Nil(t, state.View)
	assert.Equal(t, "ABC123", f.store.values[models.SessionKeyClassroomID])
}

func TestInitializeFailureServesLastKnownSnapshot(t *testing.T) {
	f := newControllerFixture(t, true)
	f.store.values[models.SessionKeyClassroomID] = "ABC123"
	f.cache.values["classroom:view:device-1:ABC123"] = viewFor("ABC123", "Cached")
	f.fetcher.set("ABC123", nil, appErrors.Clone(appErrors.ErrGateway, "down"))

	state, err := f.svc.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.StateReady, state.State)
	assert.True(t, state.Stale)
	assert.Equal(t, "Cached", state.View.Classroom.Name)
}

func TestJoinNormalizesCodeAndLoads(t *testing.T) {
	f := newControllerFixture(t, true)
	f.joiner.ids["3V6P6N"] = "ABC123"
	f.fetcher.set("ABC123", viewFor("ABC123", "Mobile Dev"), nil)
	changes := 0
	f.svc.OnChange(func(context.Context) { changes++ })

	state, err := f.svc.Join(context.Background(), "  3v6p6n ")
	require.NoError(t, err)
	assert.Equal(t, []string{"3V6P6N"}, f.joiner.codes)
	assert.Equal(t, models.StateReady, state.State)
	assert.Equal(t, "ABC123", f.store.values[models.SessionKeyClassroomID])
	assert.Equal(t, 1, changes)
	assert.Contains(t, f.cache.values, "classroom:view:device-1:ABC123")
}

func TestJoinRejectsEmptyCodeBeforeNetwork(t *testing.T) {
	f := newControllerFixture(t, false)

	_, err := f.svc.Join(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, f.joiner.codes)
}

func TestJoinFailureLeavesActiveClassroomUntouched(t *testing.T) {
	f := newControllerFixture(t, false)
	f.store.values[models.SessionKeyClassroomID] = "A"
	original := viewFor("A", "Class A")
	f.fetcher.set("A", original, nil)
	_, err := f.svc.Initialize(context.Background())
	require.NoError(t, err)

	_, err = f.svc.Join(context.Background(), "BADCODE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrJoin))
	assert.Equal(t, "A", f.store.values[models.SessionKeyClassroomID])
	current := f.svc.Current()
	assert.Equal(t, "A", current.ClassroomID)
	assert.Same(t, original, current.View)
	assert.Equal(t, models.StateReady, current.State)
}

func TestJoinGatewayFailureIsJoinError(t *testing.T) {
	f := newControllerFixture(t, false)
	f.joiner.err = errors.New("connection reset")

	_, err := f.svc.Join(context.Background(), "ABC")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrJoin))
}

func TestJoinLoadFailureLeavesActiveClassroomUntouched(t *testing.T) {
	f := newControllerFixture(t, false)
	f.store.values[models.SessionKeyClassroomID] = "A"
	original := viewFor("A", "Class A")
	f.fetcher.set("A", original, nil)
	_, err := f.svc.Initialize(context.Background())
	require.NoError(t, err)

	f.joiner.ids["NEWCODE"] = "B"
	f.fetcher.set("B", nil, appErrors.Clone(appErrors.ErrGateway, "details failed"))

	_, err = f.svc.Join(context.Background(), "NEWCODE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrGateway))
	assert.Equal(t, "A", f.store.values[models.SessionKeyClassroomID])
	assert.Same(t, original, f.svc.Current().View)
}

func TestLeaveClearsClassroom(t *testing.T) {
	f := newControllerFixture(t, true)
	f.joiner.ids["CODE"] = "ABC123"
	f.fetcher.set("ABC123", viewFor("ABC123", "Mobile Dev"), nil)
	_, err := f.svc.Join(context.Background(), "CODE")
	require.NoError(t, err)
	changes := 0
	f.svc.OnChange(func(context.Context) { changes++ })

	state, err := f.svc.Leave(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateNoClassroom, state.State)
	assert.Nil(t, state.View)
	assert.NotContains(t, f.store.values, models.SessionKeyClassroomID)
	assert.Empty(t, f.cache.values)
	assert.Equal(t, 1, changes)
}

func TestRefreshWithoutClassroomIsError(t *testing.T) {
	f := newControllerFixture(t, false)

	_, err := f.svc.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNoClassroom))
	assert.Equal(t, int32(0), f.fetcher.calls.Load())
}

func TestRefreshReplacesViewWholesale(t *testing.T) {
	f := newControllerFixture(t, false)
	f.store.values[models.SessionKeyClassroomID] = "ABC123"
	f.fetcher.set("ABC123", viewFor("ABC123", "Old"), nil)
	_, err := f.svc.Initialize(context.Background())
	require.NoError(t, err)

	fresh := viewFor("ABC123", "New")
	f.fetcher.set("ABC123", fresh, nil)
	state, err := f.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Same(t, fresh, state.View)
	assert.Equal(t, models.StateReady, state.State)
}

func TestRefreshFailureRetainsPreviousView(t *testing.T) {
	f := newControllerFixture(t, false)
	f.store.values[models.SessionKeyClassroomID] = "ABC123"
	original := viewFor("ABC123", "Mobile Dev")
	f.fetcher.set("ABC123", original, nil)
	_, err := f.svc.Initialize(context.Background())
	require.NoError(t, err)

	f.fetcher.set("ABC123", nil, appErrors.Clone(appErrors.ErrGateway, "down"))
	state, err := f.svc.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrGateway))
	assert.Same(t, original, state.View)
	assert.Equal(t, models.StateReady, state.State)
}

func TestRefreshFromUnavailableRecovers(t *testing.T) {
	f := newControllerFixture(t, false)
	f.store.values[models.SessionKeyClassroomID] = "ABC123"
	f.fetcher.set("ABC123", nil, appErrors.Clone(appErrors.ErrGateway, "down"))
	_, err := f.svc.Initialize(context.Background())
	require.Error(t, err)

	f.fetcher.set("ABC123", viewFor("ABC123", "Mobile Dev"), nil)
	state, err := f.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, state.State)
}

func TestConcurrentRefreshesShareOneFetch(t *testing.T) {
	f := newControllerFixture(t, false)
	f.store.values[models.SessionKeyClassroomID] = "ABC123"
	f.fetcher.set("ABC123", viewFor("ABC123", "Mobile Dev"), nil)
	_, err := f.svc.Initialize(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), f.fetcher.calls.Load())

	f.fetcher.block()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Refresh(context.Background())
		}(i)
	}

	assert.Equal(t, "ABC123", <-f.fetcher.started)
	assert.Eventually(t, func() bool { return fetchWaiters(f.svc) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, models.StateRefreshing, f.svc.Current().State)
	close(f.fetcher.release)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, int32(2), f.fetcher.calls.Load())
	assert.Equal(t, models.StateReady, f.svc.Current().State)
}

func TestRefreshResultDroppedAfterLeave(t *testing.T) {
	f := newControllerFixture(t, false)
	f.store.values[models.SessionKeyClassroomID] = "ABC123"
	f.fetcher.set("ABC123", viewFor("ABC123", "Mobile Dev"), nil)
	_, err := f.svc.Initialize(context.Background())
	require.NoError(t, err)

	f.fetcher.block()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.svc.Refresh(context.Background())
	}()
	<-f.fetcher.started

	_, err = f.svc.Leave(context.Background())
	require.NoError(t, err)
	close(f.fetcher.release)
	<-done

	current := f.svc.Current()
	assert.Equal(t, models.StateNoClassroom, current.State)
	assert.Nil(t, current.View)
}

func TestJoinDiscardedAfterSignOut(t *testing.T) {
	f := newControllerFixture(t, true)
	f.joiner.ids["XYZ"] = "CLS-X"
	f.fetcher.set("CLS-X", viewFor("CLS-X", "Physics"), nil)
	f.fetcher.block()

	result := make(chan error, 1)
	go func() {
		_, err := f.svc.Join(context.Background(), "xyz")
		result <- err
	}()
	assert.Equal(t, "CLS-X", <-f.fetcher.started)

	require.NoError(t, NewSession(f.store).reset(context.Background()))
	f.svc.Reset(context.Background())
	close(f.fetcher.release)

	err := <-result
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
	assert.NotContains(t, f.store.values, models.SessionKeyClassroomID)
	current := f.svc.Current()
	assert.Equal(t, models.StateNoClassroom, current.State)
	assert.Nil(t, current.View)
	assert.Empty(t, f.cache.values)
}

func TestJoinDiscardedAfterLeave(t *testing.T) {
	f := newControllerFixture(t, false)
	f.joiner.ids["XYZ"] = "CLS-X"
	f.fetcher.set("CLS-X", viewFor("CLS-X", "Physics"), nil)
	f.fetcher.block()

	result := make(chan error, 1)
	go func() {
		_, err := f.svc.Join(context.Background(), "XYZ")
		result <- err
	}()
	<-f.fetcher.started

	_, err := f.svc.Leave(context.Background())
	require.NoError(t, err)
	close(f.fetcher.release)

	assert.True(t, errors.Is(<-result, appErrors.ErrInvalidState))
	assert.NotContains(t, f.store.values, models.SessionKeyClassroomID)
	assert.Equal(t, models.StateNoClassroom, f.svc.Current().State)
}

func TestOlderFetchDoesNotOverwriteSnapshot(t *testing.T) {
	f := newControllerFixture(t, true)
	f.store.values[models.SessionKeyClassroomID] = "ABC123"
	f.fetcher.set("ABC123", viewFor("ABC123", "Newer"), nil)
	_, err := f.svc.Initialize(context.Background())
	require.NoError(t, err)

	older := &fetchResult{view: viewFor("ABC123", "Older"), seq: 0}
	f.svc.mu.RLock()
	gen := f.svc.generation
	f.svc.mu.RUnlock()
	state := f.svc.commit(context.Background(), gen, "ABC123", older)

	assert.Equal(t, "Newer", state.View.Classroom.Name)
	assert.Equal(t, "Newer", f.cache.values["classroom:view:device-1:ABC123"].Classroom.Name)
}

func TestRefreshCallerCancellationDoesNotAbortSharedFetch(t *testing.T) {
	f := newControllerFixture(t, false)
	f.store.values[models.SessionKeyClassroomID] = "ABC123"
	f.fetcher.set("ABC123", viewFor("ABC123", "Mobile Dev"), nil)
	_, err := f.svc.Initialize(context.Background())
	require.NoError(t, err)

	f.fetcher.block()
	ctx, cancel := context.WithCancel(context.Background())
	canceled := make(chan error, 1)
	go func() {
		_, err := f.svc.Refresh(ctx)
		canceled <- err
	}()
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Refresh(context.Background())
		done <- err
	}()
	<-f.fetcher.started
	assert.Eventually(t, func() bool { return fetchWaiters(f.svc) == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-canceled, context.Canceled)
	close(f.fetcher.release)
	assert.NoError(t, <-done)
	assert.Equal(t, int32(2), f.fetcher.calls.Load())
}

func TestResetClearsStateAndSnapshots(t *testing.T) {
	f := newControllerFixture(t, true)
	f.joiner.ids["CODE"] = "ABC123"
	f.fetcher.set("ABC123", viewFor("ABC123", "Mobile Dev"), nil)
	_, err := f.svc.Join(context.Background(), "CODE")
	require.NoError(t, err)
	require.NotEmpty(t, f.cache.values)

	f.svc.Reset(context.Background())
	assert.Equal(t, models.StateNoClassroom, f.svc.Current().State)
	assert.Nil(t, f.svc.CurrentView())
	assert.Empty(t, f.cache.values)
}
