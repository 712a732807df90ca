// Package storage defines the persistence contract for diagnosis records.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("storage: record not found")

// Record is one completed diagnosis interaction.
type Record struct {
	ID        string        `json:"id"`
	QueryText string        `json:"query_text,omitempty"`
	HasImage  bool          `json:"has_image"`
	Labels    []string      `json:"labels,omitempty"`
	Response  string        `json:"response"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// ListOptions controls record listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// RecordStore persists diagnosis records.
type RecordStore interface {
	SaveRecord(ctx context.Context, record *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	ListRecords(ctx context.Context, opts ListOptions) ([]*Record, error)
	Close() error
}
