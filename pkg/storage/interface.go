package storage

import (
	"context"
	"errors"
	"time"

	"gsraster/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// ConversionStore defines the data access layer for conversion history.
type ConversionStore interface {
	// CreateConversion persists a new PENDING conversion.
	CreateConversion(ctx context.Context, conv *models.Conversion) error

	// GetConversion retrieves a conversion by ID.
	GetConversion(ctx context.Context, id uuid.UUID) (*models.Conversion, error)

	// MarkRunning records that nodeID picked the conversion up.
	MarkRunning(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error

	// RecordOutcome stores the final outcome of a conversion and where its
	// captured output was written.
	RecordOutcome(ctx context.Context, id uuid.UUID, outcome models.Outcome, logURI string) error

	// ListRecent returns the newest conversions first.
	ListRecent(ctx context.Context, limit int) ([]models.Conversion, error)
}

// Queue defines the mechanism for dispatching conversion requests to executors.
type Queue interface {
	// Push adds a request to the pending queue.
	Push(ctx context.Context, req *models.ConversionRequest) error

	// Pop retrieves a request for a specific consumer group. A nil request
	// with a nil error means nothing arrived in time.
	Pop(ctx context.Context, group string, consumer string) (string, *models.ConversionRequest, error)

	// Ack acknowledges a request as processed.
	Ack(ctx context.Context, group string, msgID string) error

	// EnsureGroup ensures the consumer group exists.
	EnsureGroup(ctx context.Context, group string) error

	// Len returns the number of entries in the stream.
	Len(ctx context.Context) (int64, error)
}
