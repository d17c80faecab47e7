package middleware

import (
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ValidatorConfig holds validation configuration
type ValidatorConfig struct {
	MaxInputs      int
	MinResolution  int
	MaxResolution  int
	AllowedDevices []string
	// Root, when set, is the directory every input and output path must
	// live under.
	Root string
}

// DefaultValidatorConfig returns safe defaults
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxInputs:     64,
		MinResolution: 36,
		MaxResolution: 2400,
		AllowedDevices: []string{
			"tiffg3", "tiffg4", "tifflzw", "tiffpack", "tiffgray", "tiff24nc",
			"png16m", "pnggray", "pngmono", "jpeg", "jpeggray", "pdfwrite",
		},
	}
}

// Validator checks conversion requests before they are queued.
type Validator struct {
	config ValidatorConfig
}

// NewValidator creates a new validator with the given config
func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{config: config}
}

// ValidateInputs checks the list of documents to rasterize.
func (v *Validator) ValidateInputs(inputs []string) error {
	if len(inputs) == 0 {
		return &ValidationError{Field: "inputs", Message: "at least one input is required"}
	}
	if len(inputs) > v.config.MaxInputs {
		return &ValidationError{Field: "inputs", Message: fmt.Sprintf("at most %d inputs are allowed", v.config.MaxInputs)}
	}
	for _, in := range inputs {
		if err := v.validatePath("inputs", in); err != nil {
			return err
		}
	}
	return nil
}

// ValidateOutput checks the declared artifact path.
func (v *Validator) ValidateOutput(output string) error {
	return v.validatePath("output_path", output)
}

// ValidateResolution checks the requested DPI.
func (v *Validator) ValidateResolution(resolution int) error {
	if resolution < v.config.MinResolution || resolution > v.config.MaxResolution {
		return &ValidationError{
			Field:   "resolution",
			Message: fmt.Sprintf("must be between %d and %d", v.config.MinResolution, v.config.MaxResolution),
		}
	}
	return nil
}

// ValidateDevice checks the output device is one we allow.
func (v *Validator) ValidateDevice(device string) error {
	if !slices.Contains(v.config.AllowedDevices, device) {
		return &ValidationError{Field: "device", Message: "unsupported device"}
	}
	return nil
}

func (v *Validator) validatePath(field, p string) error {
	if p == "" {
		return &ValidationError{Field: field, Message: "path is required"}
	}
	// A leading dash would be read by the tool as a flag.
	if strings.HasPrefix(p, "-") {
		return &ValidationError{Field: field, Message: "path must not start with '-'"}
	}
	if v.config.Root == "" {
		return nil
	}
	rel, err := filepath.Rel(v.config.Root, filepath.Clean(p))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return &ValidationError{Field: field, Message: "path is outside the work directory"}
	}
	return nil
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// BodySizeLimitMiddleware limits request body size
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}

// RequestIDMiddleware adds request ID for tracing
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
