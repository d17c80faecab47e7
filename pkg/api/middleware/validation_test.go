package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	. "gsraster/pkg/api/middleware"
)

func TestValidator_ValidateInputs_AcceptsDocuments(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	tests := [][]string{
		{"testfile.ps"},
		{"/data/in/a.pdf", "/data/in/b.ps"},
		{"scans/page 1.eps"},
	}

	for _, inputs := range tests {
		if err := v.ValidateInputs(inputs); err != nil {
			t.Errorf("expected inputs %v to be valid, got error: %v", inputs, err)
		}
	}
}

func TestValidator_ValidateInputs_Rejects(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxInputs = 2
	v := NewValidator(config)

	tests := [][]string{
		nil,
		{""},
		{"-dSAFER"},
		{"a.ps", "b.ps", "c.ps"},
	}

	for _, inputs := range tests {
		if err := v.ValidateInputs(inputs); err == nil {
			t.Errorf("expected inputs %v to be rejected", inputs)
		}
	}
}

func TestValidator_PathsMustStayUnderRoot(t *testing.T) {
	config := DefaultValidatorConfig()
	config.Root = "/srv/gsraster"
	v := NewValidator(config)

	if err := v.ValidateOutput("/srv/gsraster/out/test1.tiff"); err != nil {
		t.Errorf("expected path under root to be valid, got %v", err)
	}

	for _, p := range []string{"/etc/passwd", "/srv/gsraster/../secret.tiff", "/srv/other/x.tiff"} {
		err := v.ValidateOutput(p)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("expected ValidationError for %q, got %v", p, err)
			continue
		}
		if verr.Field != "output_path" {
			t.Errorf("expected field output_path, got %s", verr.Field)
		}
	}
}

func TestValidator_ValidateResolution(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	for _, res := range []int{36, 200, 510, 2400} {
		if err := v.ValidateResolution(res); err != nil {
			t.Errorf("expected resolution %d to be valid, got %v", res, err)
		}
	}
	for _, res := range []int{0, 35, 2401, -200} {
		if err := v.ValidateResolution(res); err == nil {
			t.Errorf("expected resolution %d to be rejected", res)
		}
	}
}

func TestValidator_ValidateDevice(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	for _, device := range []string{"tiffg4", "png16m", "pdfwrite"} {
		if err := v.ValidateDevice(device); err != nil {
			t.Errorf("expected device '%s' to be valid", device)
		}
	}
	for _, device := range []string{"", "x11", "TIFFG4"} {
		if err := v.ValidateDevice(device); err == nil {
			t.Errorf("expected device '%s' to be rejected", device)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "device", Message: "unsupported device"}

	if err.Error() != "device: unsupported device" {
		t.Errorf("unexpected error text: %s", err.Error())
	}
}

func TestBodySizeLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BodySizeLimitMiddleware(16))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}
	if w.Body.String() != "abc-123" {
		t.Errorf("expected request id in context, got %q", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}
