package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gsraster/pkg/api/middleware"
	"gsraster/pkg/logger"
	"gsraster/pkg/models"
	tracing "gsraster/pkg/observability"
	"gsraster/pkg/storage"
)

// CreateConversionRequest is the body of POST /api/v1/conversions.
type CreateConversionRequest struct {
	Inputs     []string `json:"inputs" binding:"required"`
	OutputPath string   `json:"output_path" binding:"required"`
	Resolution int      `json:"resolution"`
	Device     string   `json:"device"`
}

// ConversionResponse is the API view of a conversion record.
type ConversionResponse struct {
	ID          uuid.UUID               `json:"id"`
	Inputs      []string                `json:"inputs"`
	OutputPath  string                  `json:"output_path"`
	Resolution  int                     `json:"resolution"`
	Device      string                  `json:"device"`
	Status      models.ConversionStatus `json:"status"`
	Kind        models.ErrorKind        `json:"kind,omitempty"`
	ExitCode    *int                    `json:"exit_code,omitempty"`
	ErrorDetail string                  `json:"error_detail,omitempty"`
	LogURI      string                  `json:"log_uri,omitempty"`
	SubmittedBy string                  `json:"submitted_by,omitempty"`
	ElapsedMS   int64                   `json:"elapsed_ms"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	FinishedAt  *time.Time              `json:"finished_at,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

func conversionToResponse(c *models.Conversion) ConversionResponse {
	return ConversionResponse{
		ID:          c.ID,
		Inputs:      c.Inputs,
		OutputPath:  c.OutputPath,
		Resolution:  c.Resolution,
		Device:      c.Device,
		Status:      c.Status,
		Kind:        c.Kind,
		ExitCode:    c.ExitCode,
		ErrorDetail: c.ErrorDetail,
		LogURI:      c.LogURI,
		SubmittedBy: c.SubmittedBy,
		ElapsedMS:   c.ElapsedMS,
		StartedAt:   c.StartedAt,
		FinishedAt:  c.FinishedAt,
		CreatedAt:   c.CreatedAt,
	}
}

// createConversion handles POST /api/v1/conversions
func (s *Server) createConversion(c *gin.Context) {
	var req CreateConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Resolution == 0 {
		req.Resolution = s.defaultResolution
	}
	if req.Device == "" {
		req.Device = s.defaultDevice
	}

	for _, err := range []error{
		s.validator.ValidateInputs(req.Inputs),
		s.validator.ValidateOutput(req.OutputPath),
		s.validator.ValidateResolution(req.Resolution),
		s.validator.ValidateDevice(req.Device),
	} {
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	conv := &models.Conversion{
		ID:         uuid.New(),
		Inputs:     req.Inputs,
		OutputPath: req.OutputPath,
		Resolution: req.Resolution,
		Device:     req.Device,
		Status:     models.ConversionPending,
	}
	conv.SubmittedBy = c.GetString(middleware.ContextKeyPrincipal)

	middleware.TagConversion(c, middleware.ConversionTag{
		ID:         conv.ID.String(),
		Device:     conv.Device,
		Resolution: conv.Resolution,
		Inputs:     len(conv.Inputs),
	})

	ctx := c.Request.Context()
	if err := tracing.Step(ctx, "store.create_conversion", func(ctx context.Context) error {
		return s.store.CreateConversion(ctx, conv)
	}); err != nil {
		tracing.SetError(ctx, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversion: " + err.Error()})
		return
	}

	err := tracing.Step(ctx, "queue.push", func(ctx context.Context) error {
		return s.queue.Push(ctx, &models.ConversionRequest{
			ConversionID: conv.ID,
			Inputs:       conv.Inputs,
			OutputPath:   conv.OutputPath,
			Resolution:   conv.Resolution,
			Device:       conv.Device,
			EnqueuedAt:   time.Now().UTC(),
			TraceContext: tracing.Inject(ctx),
		})
	})
	if err != nil {
		tracing.SetError(ctx, err)
		logger.Error("failed to enqueue conversion",
			zap.String("conversion_id", conv.ID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue conversion"})
		return
	}

	tracing.AddEvent(ctx, "conversion.enqueued")
	c.JSON(http.StatusAccepted, conversionToResponse(conv))
}

// listConversions handles GET /api/v1/conversions
func (s *Server) listConversions(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	convs, err := s.store.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversions: " + err.Error()})
		return
	}

	response := make([]ConversionResponse, len(convs))
	for i := range convs {
		response[i] = conversionToResponse(&convs[i])
	}

	c.JSON(http.StatusOK, gin.H{
		"conversions": response,
		"count":       len(response),
	})
}

// getConversion handles GET /api/v1/conversions/:id
func (s *Server) getConversion(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversion ID"})
		return
	}

	conv, err := s.store.GetConversion(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversion not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	middleware.TagConversion(c, middleware.ConversionTag{
		ID:         conv.ID.String(),
		Device:     conv.Device,
		Resolution: conv.Resolution,
		Inputs:     len(conv.Inputs),
	})
	c.JSON(http.StatusOK, conversionToResponse(conv))
}
