package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	"github.com/rs/zerolog"
)

// ValidationFailure is one rejected row persisted for later triage.
type ValidationFailure struct {
	ID           uint   `gorm:"primary_key"`
	BatchID      string `gorm:"index"`
	ResourceKind string `gorm:"index"`
	FlatRecord   string `gorm:"type:jsonb"`
	Error        string
	CreatedAt    time.Time
}

// ErrorStore persists validation failures to a database so rejected rows
// survive the batch directory being cleaned up.
type ErrorStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewErrorStore opens the error store and migrates its table.
func NewErrorStore(dsn string, log zerolog.Logger) (*ErrorStore, error) {
	db, err := gorm.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open error store: %w", err)
	}
	if err := db.AutoMigrate(&ValidationFailure{}).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate error store: %w", err)
	}
	return &ErrorStore{db: db, log: log}, nil
}

// Save records one rejected row.
func (s *ErrorStore) Save(batchID, kind string, flat map[string]any, cause error) error {
	record, err := json.Marshal(flat)
	if err != nil {
		return fmt.Errorf("failed to encode flat record: %w", err)
	}

	failure := ValidationFailure{
		BatchID:      batchID,
		ResourceKind: kind,
		FlatRecord:   string(record),
		Error:        cause.Error(),
	}
	if err := s.db.Create(&failure).Error; err != nil {
		return fmt.Errorf("failed to save validation failure: %w", err)
	}

	s.log.Debug().
		Str("resourceKind", kind).
		Str("batchID", batchID).
		Msg("Saved validation failure")

	return nil
}

// Failures lists the stored failures for one batch.
func (s *ErrorStore) Failures(batchID string) ([]ValidationFailure, error) {
	var failures []ValidationFailure
	if err := s.db.Where("batch_id = ?", batchID).Find(&failures).Error; err != nil {
		return nil, fmt.Errorf("failed to list validation failures: %w", err)
	}
	return failures, nil
}

// Close closes the underlying database handle.
func (s *ErrorStore) Close() error {
	return s.db.Close()
}
