package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversionStatus represents the state of a conversion in the system.
type ConversionStatus string

const (
	ConversionPending   ConversionStatus = "PENDING"
	ConversionRunning   ConversionStatus = "RUNNING"
	ConversionSucceeded ConversionStatus = "SUCCEEDED"
	ConversionFailed    ConversionStatus = "FAILED"
)

// InputList needs to implement Scanner/Valuer for GORM
type InputList []string

func (l *InputList) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("type assertion to []byte failed")
	}
}

func (l InputList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Conversion is the persisted history of one rasterization request.
type Conversion struct {
	ID          uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	Inputs      InputList        `json:"inputs" gorm:"type:jsonb;not null"`
	OutputPath  string           `json:"output_path" gorm:"not null"`
	Resolution  int              `json:"resolution" gorm:"not null"`
	Device      string           `json:"device" gorm:"type:varchar(32);not null"`
	Status      ConversionStatus `json:"status" gorm:"type:varchar(20);default:'PENDING';index"`
	NodeID      *string          `json:"node_id"`
	ExitCode    *int             `json:"exit_code"`
	Kind        ErrorKind        `json:"kind" gorm:"type:varchar(32)"`
	ErrorDetail string           `json:"error_detail"`
	LogURI      string           `json:"log_uri"`
	SubmittedBy string           `json:"submitted_by" gorm:"type:varchar(128);index"`
	StartedAt   *time.Time       `json:"started_at"`
	FinishedAt  *time.Time       `json:"finished_at"`
	ElapsedMS   int64            `json:"elapsed_ms"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	DeletedAt   gorm.DeletedAt   `json:"-" gorm:"index"`
}

// BeforeCreate hook to generate UUID if not present
func (c *Conversion) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return
}

// ApplyOutcome copies the result of a finished job onto the record.
func (c *Conversion) ApplyOutcome(o Outcome) {
	c.Kind = o.Kind
	c.ErrorDetail = o.ErrorDetail
	if o.IsSuccess() {
		c.Status = ConversionSucceeded
		c.ExitCode = nil
		c.ElapsedMS = o.Elapsed().Milliseconds()
	} else {
		c.Status = ConversionFailed
		code := o.Code()
		c.ExitCode = &code
		c.ElapsedMS = 0
	}
	if o.Timed() {
		start, end := o.StartTime, o.EndTime
		c.StartedAt = &start
		c.FinishedAt = &end
	} else {
		now := time.Now()
		c.FinishedAt = &now
	}
}

// ConversionRequest is the queue payload handed from the API to executors.
// TraceContext carries the W3C trace headers of the submitting request.
type ConversionRequest struct {
	ConversionID uuid.UUID         `json:"conversion_id"`
	Inputs       []string          `json:"inputs"`
	OutputPath   string            `json:"output_path"`
	Resolution   int               `json:"resolution"`
	Device       string            `json:"device"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
	TraceContext map[string]string `json:"trace_context,omitempty"`
}
