package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/eventlog"
)

var tracer = otel.Tracer("librarydesk/sqlstore")

// eventRow carries JSON columns as text; drivers disagree on how they return JSONB.
type eventRow struct {
	ID            int64          `db:"id"`
	AggregateID   uuid.UUID      `db:"aggregate_id"`
	AggregateType string         `db:"aggregate_type"`
	EventType     string         `db:"event_type"`
	EventData     string         `db:"event_data"`
	Metadata      sql.NullString `db:"metadata"`
	Version       int            `db:"version"`
	CreatedAt     time.Time      `db:"created_at"`
}

// AppendEvents appends events with optimistic concurrency control on the
// aggregate's latest version. Call it inside RunInTx together with the state
// change the events describe.
func (s *Store) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventlog.Event) error {
	ctx, span := tracer.Start(ctx, "eventlog.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	var currentVersion int
	err := s.get(ctx, &currentVersion, s.from("events").
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Where(goqu.Ex{"aggregate_id": aggregateID.String()}), "event")
	if err != nil {
		return fmt.Errorf("query current version: %w", err)
	}

	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return fmt.Errorf("%w: %w", apperror.ErrConflict, eventlog.ErrConcurrencyConflict)
	}
	if err := eventlog.CheckSequence(currentVersion, events); err != nil {
		return fmt.Errorf("%w: %w", apperror.ErrConflict, err)
	}

	for i, event := range events {
		var metadata any
		if len(event.Metadata) > 0 {
			metadata = string(event.Metadata)
		}
		err := s.insert(ctx, "events", goqu.Record{
			"aggregate_id":   aggregateID.String(),
			"aggregate_type": aggregateType,
			"event_type":     event.EventType,
			"event_data":     string(event.EventData),
			"metadata":       metadata,
			"version":        event.Version,
			"created_at":     utc(event.CreatedAt),
		}, "event")
		if err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				return fmt.Errorf("%w: %w", apperror.ErrConflict, eventlog.ErrConcurrencyConflict)
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", event.Version),
			attribute.String("event.type", event.EventType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// Events returns the stream of one aggregate ordered by version.
func (s *Store) Events(ctx context.Context, aggregateID uuid.UUID) ([]eventlog.Event, error) {
	ctx, span := tracer.Start(ctx, "eventlog.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	ds := s.from("events").
		Select("id", "aggregate_id", "aggregate_type", "event_type", "event_data", "metadata", "version", "created_at").
		Where(goqu.Ex{"aggregate_id": aggregateID.String()}).
		Order(goqu.C("version").Asc())

	var rows []eventRow
	if err := s.selectAll(ctx, &rows, ds, "event"); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	events := make([]eventlog.Event, 0, len(rows))
	for _, r := range rows {
		e := eventlog.Event{
			ID:            r.ID,
			AggregateID:   r.AggregateID,
			AggregateType: r.AggregateType,
			EventType:     r.EventType,
			EventData:     json.RawMessage(r.EventData),
			Version:       r.Version,
			CreatedAt:     utc(r.CreatedAt),
		}
		if r.Metadata.Valid {
			e.Metadata = json.RawMessage(r.Metadata.String)
		}
		events = append(events, e)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}
