package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-client/internal/models"
	appErrors "github.com/noah-isme/classroom-client/pkg/errors"
	"github.com/noah-isme/classroom-client/pkg/response"
)

// ContextProfileKey is the gin context key storing the signed-in profile.
const ContextProfileKey = "currentProfile"

type profileReader interface {
	Profile(ctx context.Context) (*models.Profile, error)
}

// RequireSession blocks requests unless a student is signed in with a token
// that has not expired.
func RequireSession(auth profileReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, err := auth.Profile(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		if !profile.Authenticated {
			message := "sign in required"
			if profile.ExpiresAt != nil {
				message = "session expired, sign in again"
			}
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, message))
			c.Abort()
			return
		}

		c.Set(ContextProfileKey, profile)
		c.Next()
	}
}

// ProfileFromContext returns the profile stored by RequireSession.
func ProfileFromContext(c *gin.Context) *models.Profile {
	value, exists := c.Get(ContextProfileKey)
	if !exists {
		return nil
	}
	profile, _ := value.(*models.Profile)
	return profile
}
