package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/classroom-client/internal/models"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
	"github.com/noah-isme/classroom-client/pkg/middleware/requestid"
)

const maxErrorBody = 64 << 10

// TokenSource returns the bearer token for authenticated calls. An empty token
// sends the request without an Authorization header.
type TokenSource func(ctx context.Context) (string, error)

// Observer receives one event per remote call.
type Observer interface {
	ObserveGatewayCall(operation, outcome string, duration time.Duration)
}

// Config configures the HTTP gateway.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Client   *http.Client
	Tokens   TokenSource
	Observer Observer
	Logger   *zap.Logger
}

// HTTPGateway talks to the remote classroom service over its REST API and
// normalizes responses into the fixed model shapes.
type HTTPGateway struct {
	baseURL  string
	client   *http.Client
	tokens   TokenSource
	observer Observer
	logger   *zap.Logger
}

// New constructs an HTTPGateway.
func New(cfg Config) *HTTPGateway {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPGateway{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   client,
		tokens:   cfg.Tokens,
		observer: cfg.Observer,
		logger:   logger,
	}
}

type serviceError struct {
	status  int
	message string
}

func (e *serviceError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("classroom service returned %d", e.status)
	}
	return fmt.Sprintf("classroom service returned %d: %s", e.status, e.message)
}

// Login exchanges credentials for a token.
func (g *HTTPGateway) Login(ctx context.Context, email, password string) (*models.LoginResult, error) {
	var payload loginPayload
	body := map[string]string{"email": email, "password": password}
	if err := g.do(ctx, "login", http.MethodPost, "/auth/login", body, false, &payload); err != nil {
		var svcErr *serviceError
		if errors.As(err, &svcErr) && svcErr.status < http.StatusInternalServerError {
			return nil, appErrors.WrapAs(appErrors.ErrAuth, err, messageOr(svcErr, "Invalid credentials. Please try again."))
		}
		return nil, appErrors.WrapAs(appErrors.ErrGateway, err, "login failed")
	}
	result := payload.normalize()
	if result.Token == "" {
		return nil, appErrors.Clone(appErrors.ErrAuth, "login response carried no token")
	}
	return &result, nil
}

// JoinClassroom resolves a class code into a classroom id.
func (g *HTTPGateway) JoinClassroom(ctx context.Context, code string) (*models.JoinResult, error) {
	var payload joinPayload
	body := map[string]string{"classCode": code}
	if err := g.do(ctx, "join_classroom", http.MethodPost, "/classrooms/join", body, true, &payload); err != nil {
		var svcErr *serviceError
		if errors.As(err, &svcErr) && svcErr.status < http.StatusInternalServerError {
			return nil, appErrors.WrapAs(appErrors.ErrJoin, err, messageOr(svcErr, "Failed to join classroom. Please check the class code."))
		}
		return nil, appErrors.WrapAs(appErrors.ErrGateway, err, "join classroom failed")
	}
	result := payload.normalize(code)
	return &result, nil
}

// GetClassroomDetails fetches the classroom header.
func (g *HTTPGateway) GetClassroomDetails(ctx context.Context, classroomID string) (*models.Classroom, error) {
	var payload classroomPayload
	path := fmt.Sprintf("/classrooms/%s/details", url.PathEscape(classroomID))
	if err := g.do(ctx, "classroom_details", http.MethodGet, path, nil, true, &payload); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrGateway, err, "failed to load classroom details")
	}
	classroom := payload.normalize(classroomID)
	return &classroom, nil
}

// GetClassroomMaterials fetches materials in server order.
func (g *HTTPGateway) GetClassroomMaterials(ctx context.Context, classroomID string) ([]models.Material, error) {
	var payload []materialPayload
	path := fmt.Sprintf("/classrooms/%s/materials", url.PathEscape(classroomID))
	if err := g.do(ctx, "classroom_materials", http.MethodGet, path, nil, true, &payload); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrGateway, err, "failed to load classroom materials")
	}
	materials := make([]models.Material, 0, len(payload))
	for _, item := range payload {
		materials = append(materials, item.normalize())
	}
	return materials, nil
}

// GetAssignments fetches one kind of assignment in server order.
func (g *HTTPGateway) GetAssignments(ctx context.Context, classroomID string, kind models.AssignmentKind) ([]models.Assignment, error) {
	var payload []assignmentPayload
	path := fmt.Sprintf("/classrooms/%s/assignments", url.PathEscape(classroomID))
	if kind == models.AssignmentKindSubmission {
		path += "?type=submission"
	}
	if err := g.do(ctx, "assignments_"+string(kind), http.MethodGet, path, nil, true, &payload); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrGateway, err, fmt.Sprintf("failed to load %s assignments", kind))
	}
	assignments := make([]models.Assignment, 0, len(payload))
	for _, item := range payload {
		assignments = append(assignments, item.normalize(kind))
	}
	return assignments, nil
}

func (g *HTTPGateway) do(ctx context.Context, op, method, path string, body interface{}, authenticated bool, dest interface{}) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		if g.observer != nil {
			g.observer.ObserveGatewayCall(op, outcome, time.Since(start))
		}
		if err != nil {
			g.logger.Debug("gateway call failed", zap.String("op", op), zap.Error(err))
		}
	}()

	var reader io.Reader
	if body != nil {
		raw, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			return fmt.Errorf("encode %s request: %w", op, marshalErr)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header(), id)
	}
	if authenticated && g.tokens != nil {
		token, tokenErr := g.tokens(ctx)
		if tokenErr != nil {
			return fmt.Errorf("read session token: %w", tokenErr)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &serviceError{status: resp.StatusCode, message: extractMessage(raw)}
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func extractMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		return firstNonEmpty(body.Message, body.Error)
	}
	return ""
}

func messageOr(err *serviceError, fallback string) string {
	if err.message != "" {
		return err.message
	}
	return fallback
}
