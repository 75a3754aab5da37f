package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-client/internal/models"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
)

type authGateway interface {
	Login(ctx context.Context, email, password string) (*models.LoginResult, error)
}

// AuthService signs the student in and out. It is the only writer of the
// token and user session keys.
type AuthService struct {
	gateway   authGateway
	session   *Session
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time

	mu           sync.Mutex
	signOutHooks []func(ctx context.Context)
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(gateway authGateway, session *Session, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{gateway: gateway, session: session, validator: validate, logger: logger, now: time.Now}
}

// OnSignOut registers fn to run after the session store has been cleared.
func (s *AuthService) OnSignOut(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOutHooks = append(s.signOutHooks, fn)
}

// Login authenticates against the classroom service and persists the token and user.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.Profile, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrValidation, err, "Please enter email and password")
	}

	result, err := s.gateway.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if result.User.Email == "" {
		result.User.Email = req.Email
	}

	if err := s.session.setCredentials(ctx, result.Token, result.User); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to persist session")
	}

	s.logger.Info("student signed in", zap.String("uid", result.User.UID))
	return s.profile(result.Token, &result.User), nil
}

// Logout clears every session key and notifies sign-out listeners. Listeners
// run even when the store fails so in-memory state never outlives a sign-out.
func (s *AuthService) Logout(ctx context.Context) error {
	err := s.session.reset(ctx)

	s.mu.Lock()
	hooks := append([]func(context.Context){}, s.signOutHooks...)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx)
	}

	if err != nil {
		s.logger.Error("failed to clear session", zap.Error(err))
		return appErrors.WrapAs(appErrors.ErrInternal, err, "failed to sign out")
	}
	s.logger.Info("student signed out")
	return nil
}

// Profile describes the current session.
func (s *AuthService) Profile(ctx context.Context) (*models.Profile, error) {
	token, err := s.session.Token(ctx)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to read session")
	}
	user, err := s.session.User(ctx)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInternal, err, "failed to read session")
	}
	return s.profile(token, user), nil
}

// Authenticated reports whether a usable token is stored.
func (s *AuthService) Authenticated(ctx context.Context) (bool, error) {
	profile, err := s.Profile(ctx)
	if err != nil {
		return false, err
	}
	return profile.Authenticated, nil
}

// Token is the gateway's token source.
func (s *AuthService) Token(ctx context.Context) (string, error) {
	return s.session.Token(ctx)
}

func (s *AuthService) profile(token string, user *models.User) *models.Profile {
	profile := &models.Profile{User: user, DisplayName: user.DisplayName()}
	if user != nil {
		profile.Email = user.Email
		profile.Phone = user.Phone
	}
	if token == "" {
		return profile
	}
	profile.Authenticated = true

	// Tokens are opaque unless they parse as a JWT; then an elapsed exp signs
	// the student out of the local view. Signatures are the server's concern.
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return profile
	}
	if claims.ExpiresAt != nil {
		expiresAt := claims.ExpiresAt.Time.UTC()
		profile.ExpiresAt = &expiresAt
		if !s.now().Before(expiresAt) {
			profile.Authenticated = false
		}
	}
	return profile
}
