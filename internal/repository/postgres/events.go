package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/expozone/stallbook/internal/domain"
	"github.com/expozone/stallbook/internal/repository"
)

func (s *Store) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	const op = "postgres.Store.GetEvent"

	var e domain.Event
	err := s.handle(ctx).QueryRow(ctx,
		`SELECT id, organizer_id, title, status, starts_at, ends_at
       	 FROM events
      	 WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.OrganizerID, &e.Title, &e.Status, &e.Starts, &e.Ends)
	if err != nil {
		return domain.Event{}, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return e, nil
}

// ListEventsForSweep returns events whose status may still advance from
// calendar time. Draft and completed events never do.
func (s *Store) ListEventsForSweep(ctx context.Context, limit int) ([]domain.Event, error) {
	const op = "postgres.Store.ListEventsForSweep"

	rows, err := s.handle(ctx).Query(ctx,
		`SELECT id, organizer_id, title, status, starts_at, ends_at
       	 FROM events
      	 WHERE status IN ('published', 'ongoing')
      	 ORDER BY id
      	 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.OrganizerID, &e.Title, &e.Status, &e.Starts, &e.Ends); err != nil {
			return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return events, nil
}

// UpdateEventStatus advances an event's lifecycle status with a guard on the
// current value and appends a history entry. A concurrent sweep that already
// advanced the event surfaces as ErrStaleStatus and is harmless to skip.
func (s *Store) UpdateEventStatus(ctx context.Context, id int64, from, to domain.EventStatus, at time.Time) error {
	const op = "postgres.Store.UpdateEventStatus"

	db := s.handle(ctx)

	tag, err := db.Exec(ctx,
		`UPDATE events SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrStaleStatus)
	}

	if _, err := db.Exec(ctx,
		`INSERT INTO event_status_history(event_id, status, reason, changed_at)
       	 VALUES ($1, $2, 'calendar', $3)`,
		id, to, at,
	); err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return nil
}
