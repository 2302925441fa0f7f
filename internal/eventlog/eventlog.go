// Package eventlog models the append-only lifecycle history of loans and fines.
// Stores append events in the same transaction as the state change they
// describe, with optimistic concurrency on the per-aggregate version.
package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Aggregate types.
const (
	AggregateLoan = "loan"
	AggregateFine = "fine"
)

// Event types.
const (
	LoanOpened        = "LoanOpened"
	LoanReturned      = "LoanReturned"
	LoanMarkedOverdue = "LoanMarkedOverdue"
	FineIssued        = "FineIssued"
	FinePaid          = "FinePaid"
)

// Event is a stored domain event with its metadata.
type Event struct {
	ID            int64           `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregateId" db:"aggregate_id"`
	AggregateType string          `json:"aggregateType" db:"aggregate_type"`
	EventType     string          `json:"eventType" db:"event_type"`
	EventData     json.RawMessage `json:"eventData" db:"event_data"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// New marshals data into an event for the given aggregate at version.
func New(aggregateID uuid.UUID, aggregateType, eventType string, version int, data any, at time.Time) (Event, error) {
	if version < 1 {
		return Event{}, ErrInvalidVersion
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s data: %w", eventType, err)
	}

	return Event{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     raw,
		Version:       version,
		CreatedAt:     at.UTC(),
	}, nil
}

// WithMetadata returns a copy of e carrying the given metadata.
func (e Event) WithMetadata(md map[string]string) Event {
	if len(md) == 0 {
		return e
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return e
	}
	e.Metadata = raw
	return e
}

// CheckSequence verifies that events continue the stream right after
// currentVersion without gaps. Stores call it before inserting.
func CheckSequence(currentVersion int, events []Event) error {
	for i, e := range events {
		if e.Version != currentVersion+i+1 {
			return fmt.Errorf("%w: aggregate %s at version %d, event %s carries %d",
				ErrConcurrencyConflict, e.AggregateID, currentVersion, e.EventType, e.Version)
		}
	}
	return nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.EventData, v); err != nil {
		return fmt.Errorf("unmarshal %s data: %w", e.EventType, err)
	}
	return nil
}
