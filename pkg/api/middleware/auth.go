package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gsraster/pkg/auth"
	"gsraster/pkg/logger"
)

const (
	AuthHeaderKey   = "Authorization"
	APIKeyHeaderKey = "X-API-Key"
	// ContextClaimsKey holds the caller's *auth.Claims.
	ContextClaimsKey = "claims"
	// ContextKeyPrincipal holds the caller's principal as a string.
	ContextKeyPrincipal = "principal"
)

// AnonymousPrincipal is the identity given to every caller when
// authentication is disabled.
const AnonymousPrincipal = "anonymous"

// AuthConfig holds authentication middleware configuration. With Disabled
// set every request runs as AnonymousPrincipal with the admin role.
type AuthConfig struct {
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
	Disabled    bool
}

// AuthMiddleware accepts a Bearer token or an X-API-Key and aborts with 401
// when neither is valid. A key store that cannot be reached yields 503.
func AuthMiddleware(config AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.Disabled {
			claims := &auth.Claims{Role: auth.RoleAdmin}
			claims.Subject = AnonymousPrincipal
			setClaims(c, claims)
			c.Next()
			return
		}

		claims, err := authenticate(c, config)
		if err != nil {
			status := http.StatusUnauthorized
			msg := err.Error()
			if !isCredentialError(err) {
				logger.Warn("authentication backend failed", zap.Error(err))
				status = http.StatusServiceUnavailable
				msg = "authentication unavailable"
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error": msg,
				"hint":  "provide a Bearer token or an X-API-Key header",
			})
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

var errNoCredentials = errors.New("authentication required")

func isCredentialError(err error) bool {
	for _, target := range []error{errNoCredentials, auth.ErrInvalidToken, auth.ErrExpiredToken, auth.ErrInvalidClaims} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// authenticate tries the bearer token first, then the API key.
func authenticate(c *gin.Context, config AuthConfig) (*auth.Claims, error) {
	if header := c.GetHeader(AuthHeaderKey); header != "" && config.JWTService != nil {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return nil, auth.ErrInvalidToken
		}
		return config.JWTService.ValidateToken(strings.TrimSpace(parts[1]))
	}

	if key := c.GetHeader(APIKeyHeaderKey); key != "" && config.APIKeyStore != nil {
		info, err := config.APIKeyStore.ValidateKey(c.Request.Context(), key)
		if err != nil {
			return nil, err
		}
		return info.Claims(), nil
	}

	return nil, errNoCredentials
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ContextClaimsKey, claims)
	c.Set(ContextKeyPrincipal, claims.Principal())
}

// GetClaims returns the claims AuthMiddleware stored for the request.
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

// RequireRole aborts with 403 unless the caller has at least required.
func RequireRole(required auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errNoCredentials.Error()})
			return
		}

		if !claims.Role.HasPermission(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    auth.ErrInsufficientRole.Error(),
				"required": required,
				"current":  claims.Role,
			})
			return
		}

		c.Next()
	}
}
