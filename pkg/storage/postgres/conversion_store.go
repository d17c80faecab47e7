package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gsraster/pkg/models"
	"gsraster/pkg/storage"
)

type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore initializes GORM connection and AutoMigrates schemas.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true, // Cache prepared statements for performance
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Conversion{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateConversion persists a new conversion record.
func (s *PostgresStore) CreateConversion(ctx context.Context, conv *models.Conversion) error {
	if conv.Status == "" {
		conv.Status = models.ConversionPending
	}
	result := s.db.WithContext(ctx).Create(conv)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create conversion: %w", result.Error)
	}
	return nil
}

// GetConversion retrieves a conversion by ID.
func (s *PostgresStore) GetConversion(ctx context.Context, id uuid.UUID) (*models.Conversion, error) {
	var conv models.Conversion
	result := s.db.WithContext(ctx).First(&conv, "id = ?", id)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &conv, nil
}

// MarkRunning flags a conversion as picked up by nodeID.
func (s *PostgresStore) MarkRunning(ctx context.Context, id uuid.UUID, nodeID string, startedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.Conversion{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.ConversionRunning,
			"node_id":    nodeID,
			"started_at": startedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark conversion running: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordOutcome stores the final state of a conversion.
func (s *PostgresStore) RecordOutcome(ctx context.Context, id uuid.UUID, outcome models.Outcome, logURI string) error {
	var conv models.Conversion
	conv.ApplyOutcome(outcome)

	updates := map[string]interface{}{
		"status":       conv.Status,
		"exit_code":    conv.ExitCode,
		"kind":         conv.Kind,
		"error_detail": conv.ErrorDetail,
		"log_uri":      logURI,
		"finished_at":  conv.FinishedAt,
		"elapsed_ms":   conv.ElapsedMS,
	}
	// Keep the pickup time from MarkRunning when the tool never ran.
	if conv.StartedAt != nil {
		updates["started_at"] = conv.StartedAt
	}

	result := s.db.WithContext(ctx).
		Model(&models.Conversion{}).
		Where("id = ?", id).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to record outcome: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListRecent returns the newest conversions first.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]models.Conversion, error) {
	var convs []models.Conversion

	result := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&convs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", result.Error)
	}
	return convs, nil
}
