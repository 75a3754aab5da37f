package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/classroom-client/internal/models"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
)

type viewFetcher interface {
	FetchClassroomView(ctx context.Context, classroomID string) (*models.ClassroomView, error)
}

type joinGateway interface {
	JoinClassroom(ctx context.Context, code string) (*models.JoinResult, error)
}

// ClassroomSessionConfig tunes the lifecycle controller.
type ClassroomSessionConfig struct {
	Scope    string
	CacheTTL time.Duration
}

// ClassroomSessionServiceParams groups constructor dependencies.
type ClassroomSessionServiceParams struct {
	Session    *Session
	Aggregator viewFetcher
	Gateway    joinGateway
	Cache      *CacheService
	Metrics    *MetricsService
	Logger     *zap.Logger
	Config     ClassroomSessionConfig
}

// ClassroomSessionService owns the current classroom: the persisted id, the
// in-memory view and the join/leave/refresh transitions between them.
type ClassroomSessionService struct {
	session    *Session
	aggregator viewFetcher
	gateway    joinGateway
	cache      *CacheService
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        ClassroomSessionConfig

	mu          sync.RWMutex
	state       models.LifecycleState
	classroomID string
	view        *models.ClassroomView
	stale       bool
	generation  uint64
	committed   uint64

	flight   singleflight.Group
	fetchSeq atomic.Uint64

	hooksMu     sync.Mutex
	changeHooks []func(ctx context.Context)
}

type fetchResult struct {
	view *models.ClassroomView
	seq  uint64
}

// NewClassroomSessionService constructs the controller in the NoClassroom state.
func NewClassroomSessionService(params ClassroomSessionServiceParams) *ClassroomSessionService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := params.Config
	if cfg.Scope == "" {
		cfg.Scope = "default"
	}
	return &ClassroomSessionService{
		session:    params.Session,
		aggregator: params.Aggregator,
		gateway:    params.Gateway,
		cache:      params.Cache,
		metrics:    params.Metrics,
		logger:     logger,
		cfg:        cfg,
		state:      models.StateNoClassroom,
	}
}

// OnChange registers fn to run whenever the current classroom changes or is
// cleared.
func (s *ClassroomSessionService) OnChange(fn func(ctx context.Context)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.changeHooks = append(s.changeHooks, fn)
}

// Current returns a snapshot of the controller state.
func (s *ClassroomSessionService) Current() *models.ClassroomState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// CurrentView returns the published view, or nil.
func (s *ClassroomSessionService) CurrentView() *models.ClassroomView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Initialize loads the classroom recorded in the session, if any. On failure
// the retained view is kept, else the last snapshot is served as stale, else
// the controller reports Unavailable. The error is returned in every case.
func (s *ClassroomSessionService) Initialize(ctx context.Context) (*models.ClassroomState, error) {
	id, err := s.session.ClassroomID(ctx)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to read session")
	}

	s.mu.Lock()
	if id == "" {
		s.generation++
		s.classroomID = ""
		s.view = nil
		s.stale = false
		s.setStateLocked(models.StateNoClassroom)
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, nil
	}
	if s.classroomID != id {
		s.generation++
		s.classroomID = id
		s.view = nil
		s.stale = false
	}
	if s.view != nil {
		s.setStateLocked(models.StateRefreshing)
	} else {
		s.setStateLocked(models.StateLoading)
	}
	gen := s.generation
	s.mu.Unlock()

	result, fetchErr := s.aggregate(ctx, id)
	if fetchErr != nil {
		return s.fail(ctx, gen, id, fetchErr)
	}
	return s.commit(ctx, gen, id, result), nil
}

// Join resolves code to a classroom and switches to it. Join is all-or-nothing:
// on any failure the persisted id and the current view are left untouched. A
// join overtaken by a leave, another join or a sign-out is discarded.
func (s *ClassroomSessionService) Join(ctx context.Context, code string) (*models.ClassroomState, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Please enter a class code")
	}

	s.mu.RLock()
	gen := s.generation
	s.mu.RUnlock()

	joined, err := s.gateway.JoinClassroom(ctx, code)
	if err != nil {
		if errors.Is(err, appErrors.ErrJoin) {
			return nil, err
		}
		return nil, appErrors.WrapAs(appErrors.ErrJoin, err, "Failed to join classroom. Please check the class code.")
	}
	id := joined.ClassroomID

	result, err := s.aggregate(ctx, id)
	if err != nil {
		s.logger.Warn("joined classroom could not be loaded", zap.String("classroom_id", id), zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	if gen != s.generation {
		state := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Info("discarding join overtaken by a session change", zap.String("classroom_id", id))
		return state, appErrors.Clone(appErrors.ErrInvalidState, "classroom session changed while joining")
	}
	if err := s.session.setClassroomID(ctx, id); err != nil {
		s.mu.Unlock()
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to persist classroom")
	}
	previous := s.classroomID
	s.generation++
	s.classroomID = id
	s.view = result.view
	s.committed = result.seq
	s.stale = false
	s.setStateLocked(models.StateReady)
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.storeSnapshot(ctx, id, result.view)
	if previous != id {
		s.notifyChange(ctx)
	}
	s.logger.Info("joined classroom", zap.String("classroom_id", id))
	return state, nil
}

// Leave forgets the current classroom. Confirmation is the caller's concern.
func (s *ClassroomSessionService) Leave(ctx context.Context) (*models.ClassroomState, error) {
	s.mu.Lock()
	if err := s.session.clearClassroomID(ctx); err != nil {
		s.mu.Unlock()
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to leave classroom")
	}
	previous := s.classroomID
	s.clearLocked()
	state := s.snapshotLocked()
	s.mu.Unlock()

	if previous != "" {
		s.dropSnapshot(ctx, s.snapshotKey(previous))
	}
	s.notifyChange(ctx)
	s.logger.Info("left classroom", zap.String("classroom_id", previous))
	return state, nil
}

// Refresh re-aggregates the current classroom. Concurrent refreshes of the same
// classroom share a single fetch. On failure the previous view is retained.
func (s *ClassroomSessionService) Refresh(ctx context.Context) (*models.ClassroomState, error) {
	s.mu.Lock()
	id := s.classroomID
	if id == "" || s.state == models.StateNoClassroom {
		s.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrNoClassroom, "no classroom to refresh")
	}
	if s.state == models.StateReady {
		s.setStateLocked(models.StateRefreshing)
	}
	gen := s.generation
	s.mu.Unlock()

	result, err := s.aggregate(ctx, id)
	if err != nil {
		return s.fail(ctx, gen, id, err)
	}
	return s.commit(ctx, gen, id, result), nil
}

// Reset drops all classroom state. It runs on sign-out; the persisted id is
// cleared again under the lock so a join finishing in between cannot keep it.
func (s *ClassroomSessionService) Reset(ctx context.Context) {
	s.mu.Lock()
	if err := s.session.clearClassroomID(ctx); err != nil {
		s.logger.Warn("failed to clear persisted classroom on reset", zap.Error(err))
	}
	s.clearLocked()
	s.mu.Unlock()

	s.dropSnapshot(ctx, fmt.Sprintf("classroom:view:%s:*", s.cfg.Scope))
	s.notifyChange(ctx)
}

// aggregate runs the fetch for id through the single-flight group. The shared
// fetch is detached from the caller's cancellation so one caller giving up does
// not fail the others; each caller still stops waiting when its ctx ends.
func (s *ClassroomSessionService) aggregate(ctx context.Context, id string) (*fetchResult, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(id, func() (interface{}, error) {
		seq := s.fetchSeq.Add(1)
		view, err := s.aggregator.FetchClassroomView(fetchCtx, id)
		if err != nil {
			return nil, err
		}
		return &fetchResult{view: view, seq: seq}, nil
	})

	s.metrics.FetchWaiterAdded()
	defer s.metrics.FetchWaiterDone()

	select {
	case res := <-ch:
		if res.Shared {
			s.metrics.RecordCoalescedRefresh()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fetchResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// commit publishes result unless the classroom changed meanwhile or a newer
// fetch already landed.
func (s *ClassroomSessionService) commit(ctx context.Context, gen uint64, id string, result *fetchResult) *models.ClassroomState {
	s.mu.Lock()
	if gen != s.generation || id != s.classroomID {
		state := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Debug("dropping superseded classroom view", zap.String("classroom_id", id))
		return state
	}
	published := result.seq >= s.committed
	if published {
		s.view = result.view
		s.committed = result.seq
		s.stale = false
	}
	s.setStateLocked(models.StateReady)
	state := s.snapshotLocked()
	s.mu.Unlock()

	if published {
		s.storeSnapshot(ctx, id, result.view)
	}
	return state
}

func (s *ClassroomSessionService) fail(ctx context.Context, gen uint64, id string, cause error) (*models.ClassroomState, error) {
	s.mu.Lock()
	if gen != s.generation || id != s.classroomID {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, cause
	}
	if s.view != nil {
		s.setStateLocked(models.StateReady)
		state := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Warn("classroom refresh failed, keeping previous view", zap.String("classroom_id", id), zap.Error(cause))
		return state, cause
	}
	s.mu.Unlock()

	var cached models.ClassroomView
	hit, err := s.cache.Get(ctx, s.snapshotKey(id), &cached)
	if err != nil {
		hit = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || id != s.classroomID {
		return s.snapshotLocked(), cause
	}
	if hit && s.view == nil {
		s.view = &cached
		s.stale = true
		s.setStateLocked(models.StateReady)
		s.logger.Warn("classroom unavailable, serving last known view", zap.String("classroom_id", id), zap.Error(cause))
		return s.snapshotLocked(), cause
	}
	if s.view != nil {
		s.setStateLocked(models.StateReady)
		return s.snapshotLocked(), cause
	}
	s.setStateLocked(models.StateUnavailable)
	s.logger.Warn("classroom unavailable", zap.String("classroom_id", id), zap.Error(cause))
	return s.snapshotLocked(), cause
}

func (s *ClassroomSessionService) clearLocked() {
	s.generation++
	s.classroomID = ""
	s.view = nil
	s.stale = false
	s.setStateLocked(models.StateNoClassroom)
}

func (s *ClassroomSessionService) setStateLocked(state models.LifecycleState) {
	if s.state == state {
		return
	}
	s.state = state
	s.metrics.RecordTransition(string(state))
}

func (s *ClassroomSessionService) snapshotLocked() *models.ClassroomState {
	state := &models.ClassroomState{
		State:       s.state,
		ClassroomID: s.classroomID,
		View:        s.view,
		Stale:       s.stale,
	}
	if s.view != nil {
		summary := s.view.Summary()
		state.Summary = &summary
	}
	return state
}

func (s *ClassroomSessionService) notifyChange(ctx context.Context) {
	s.hooksMu.Lock()
	hooks := append([]func(context.Context){}, s.changeHooks...)
	s.hooksMu.Unlock()
	for _, hook := range hooks {
		hook(ctx)
	}
}

func (s *ClassroomSessionService) snapshotKey(id string) string {
	return fmt.Sprintf("classroom:view:%s:%s", s.cfg.Scope, id)
}

func (s *ClassroomSessionService) storeSnapshot(ctx context.Context, id string, view *models.ClassroomView) {
	if !s.cache.Enabled() || view == nil {
		return
	}
	_ = s.cache.Set(ctx, s.snapshotKey(id), view, s.cfg.CacheTTL)
}

func (s *ClassroomSessionService) dropSnapshot(ctx context.Context, pattern string) {
	if !s.cache.Enabled() {
		return
	}
	_ = s.cache.Invalidate(ctx, pattern)
}
