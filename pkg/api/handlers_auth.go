package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gsraster/pkg/api/middleware"
	"gsraster/pkg/auth"
	"gsraster/pkg/logger"
)

// CreateKeyRequest is the body of POST /api/v1/keys.
type CreateKeyRequest struct {
	Name  string    `json:"name" binding:"required"`
	Owner string    `json:"owner" binding:"required"`
	Role  auth.Role `json:"role" binding:"required"`
	// TTL is a Go duration such as "720h"; empty means the key never expires.
	TTL string `json:"ttl"`
}

// IssueTokenRequest is the body of POST /api/v1/tokens.
type IssueTokenRequest struct {
	Principal string    `json:"principal" binding:"required"`
	Role      auth.Role `json:"role" binding:"required"`
}

// createKey handles POST /api/v1/keys. The key is only ever returned here.
func (s *Server) createKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	info := auth.APIKeyInfo{Name: req.Name, Owner: req.Owner, Role: req.Role}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ttl must be a positive duration"})
			return
		}
		info.ExpiresAt = time.Now().Add(ttl).Unix()
	}

	key, err := s.auth.APIKeyStore.CreateKey(c.Request.Context(), info)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create key: " + err.Error()})
		return
	}

	logger.Info("api key created",
		zap.String("owner", req.Owner),
		zap.String("role", string(req.Role)),
		zap.String("by", c.GetString(middleware.ContextKeyPrincipal)),
	)
	c.JSON(http.StatusCreated, gin.H{"key": key})
}

// listKeys handles GET /api/v1/keys?owner=...
func (s *Server) listKeys(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner is required"})
		return
	}

	keys, err := s.auth.APIKeyStore.ListKeys(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// revokeKey handles DELETE /api/v1/keys/:id
func (s *Server) revokeKey(c *gin.Context) {
	err := s.auth.APIKeyStore.RevokeKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// issueToken handles POST /api/v1/tokens
func (s *Server) issueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := s.auth.JWTService.GenerateToken(req.Principal, req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token})
}
