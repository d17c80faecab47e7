package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrInsufficientRole = errors.New("insufficient permissions")
	ErrNoSecret         = errors.New("JWT secret key is required")
)

// Role is what a caller may do with conversions.
type Role string

const (
	// RoleAdmin also manages API keys.
	RoleAdmin Role = "admin"
	// RoleSubmitter may submit conversions.
	RoleSubmitter Role = "submitter"
	// RoleViewer may only read conversion records.
	RoleViewer Role = "viewer"
)

var roleLevel = map[Role]int{
	RoleAdmin:     100,
	RoleSubmitter: 50,
	RoleViewer:    10,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleLevel[r]
	return ok
}

// HasPermission reports whether r is at least required.
func (r Role) HasPermission(required Role) bool {
	return r.Valid() && roleLevel[r] >= roleLevel[required]
}

// Claims identify the caller of a request. Subject is the principal.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// Principal is the caller's identity, shared by tokens and API keys.
func (c *Claims) Principal() string {
	return c.Subject
}

type JWTConfig struct {
	SecretKey   string
	Issuer      string
	TokenExpiry time.Duration
}

func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Issuer:      "gsraster",
		TokenExpiry: 24 * time.Hour,
	}
}

// JWTService issues and checks HS256 bearer tokens.
type JWTService struct {
	config JWTConfig
}

func NewJWTService(config JWTConfig) (*JWTService, error) {
	if config.SecretKey == "" {
		return nil, ErrNoSecret
	}
	if config.Issuer == "" {
		config.Issuer = DefaultJWTConfig().Issuer
	}
	if config.TokenExpiry <= 0 {
		config.TokenExpiry = DefaultJWTConfig().TokenExpiry
	}
	return &JWTService{config: config}, nil
}

// GenerateToken signs a token for principal with role.
func (s *JWTService) GenerateToken(principal string, role Role) (string, error) {
	if !role.Valid() {
		return "", ErrInvalidClaims
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   principal,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenExpiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.SecretKey))
}

// ValidateToken checks signature, issuer and expiry and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.SecretKey), nil
	}, jwt.WithIssuer(s.config.Issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}
