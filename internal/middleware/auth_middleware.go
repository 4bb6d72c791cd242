// auth_middleware.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"order-fulfillment-service/internal/logging"
	"order-fulfillment-service/internal/service"
)

const userKey = "user"

// AuthMiddleware validates the bearer token and stores the caller in the gin context.
func AuthMiddleware(validator service.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing authorization header")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		user, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			logging.FromContext(c.Request.Context(), nil).Debug("token_rejected", zap.Error(err))
			abort(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}

		c.Set(userKey, *user)
		ctx := logging.ContextWithLogger(c.Request.Context(),
			logging.FromContext(c.Request.Context(), nil).With(zap.String("user_id", user.ID)))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CurrentUser returns the caller stored by AuthMiddleware.
func CurrentUser(c *gin.Context) (service.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return service.User{}, false
	}
	u, ok := v.(service.User)
	return u, ok
}

func abort(c *gin.Context, code int, kind, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": gin.H{"kind": kind, "message": message}})
}
