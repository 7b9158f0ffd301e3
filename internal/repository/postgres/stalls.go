package postgres

import (
	"context"
	"fmt"

	"github.com/expozone/stallbook/internal/domain"
	"github.com/expozone/stallbook/internal/repository"
)

// GetStall returns one stall of an event.
//
// Returns:
//   - domain.Stall: the stall when found.
//   - error: repository.ErrNotFound if the event has no such stall.
func (s *Store) GetStall(ctx context.Context, eventID, stallID int64) (domain.Stall, error) {
	const op = "postgres.Store.GetStall"

	var st domain.Stall
	err := s.handle(ctx).QueryRow(ctx,
		`SELECT event_id, stall_id, display_id, stall_type, category, price, size, status
       	 FROM stalls
      	 WHERE event_id = $1 AND stall_id = $2`,
		eventID, stallID,
	).Scan(&st.EventID, &st.StallID, &st.DisplayID, &st.Type, &st.Category, &st.Price, &st.Size, &st.Status)
	if err != nil {
		return domain.Stall{}, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return st, nil
}

// GetStallForUpdate locks and returns one stall row. Call inside WithTx.
func (s *Store) GetStallForUpdate(ctx context.Context, eventID, stallID int64) (domain.Stall, error) {
	const op = "postgres.Store.GetStallForUpdate"

	var st domain.Stall
	err := s.handle(ctx).QueryRow(ctx,
		`SELECT event_id, stall_id, display_id, stall_type, category, price, size, status
       	 FROM stalls
      	 WHERE event_id = $1 AND stall_id = $2
      	 FOR UPDATE`,
		eventID, stallID,
	).Scan(&st.EventID, &st.StallID, &st.DisplayID, &st.Type, &st.Category, &st.Price, &st.Size, &st.Status)
	if err != nil {
		return domain.Stall{}, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return st, nil
}

// UpdateStallStatus moves one stall from -> to in a single keyed UPDATE.
// The guard on the current status makes the write atomic: a concurrent
// transition that already moved the stall leaves zero rows affected.
//
// Returns:
//   - error: repository.ErrStaleStatus if the stall is no longer in `from`.
//   - error: repository.ErrNotFound if the stall does not exist.
func (s *Store) UpdateStallStatus(ctx context.Context, eventID, stallID int64, from, to domain.StallStatus) error {
	const op = "postgres.Store.UpdateStallStatus"

	tag, err := s.handle(ctx).Exec(ctx,
		`UPDATE stalls
        	SET status = $4
      	 WHERE event_id = $1 AND stall_id = $2 AND status = $3`,
		eventID, stallID, from, to,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.handle(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM stalls WHERE event_id = $1 AND stall_id = $2)`,
			eventID, stallID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
		if !exists {
			return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, repository.ErrStaleStatus)
	}

	return nil
}

// ListStalls returns an event's stalls, optionally only the available ones.
func (s *Store) ListStalls(ctx context.Context, eventID int64, onlyAvailable bool, limit, offset int) ([]domain.Stall, error) {
	const op = "postgres.Store.ListStalls"

	query := `SELECT event_id, stall_id, display_id, stall_type, category, price, size, status
       	 FROM stalls
      	 WHERE event_id = $1`
	if onlyAvailable {
		query += ` AND status = 'available'`
	}
	query += ` ORDER BY stall_id LIMIT $2 OFFSET $3`

	rows, err := s.handle(ctx).Query(ctx, query, eventID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	defer rows.Close()

	var stalls []domain.Stall
	for rows.Next() {
		var st domain.Stall
		if err := rows.Scan(&st.EventID, &st.StallID, &st.DisplayID, &st.Type, &st.Category, &st.Price, &st.Size, &st.Status); err != nil {
			return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
		stalls = append(stalls, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return stalls, nil
}

// CountStallsByStatus returns per-status stall counters for an event.
func (s *Store) CountStallsByStatus(ctx context.Context, eventID int64) (*domain.StallCounts, error) {
	const op = "postgres.Store.CountStallsByStatus"

	var c domain.StallCounts
	err := s.handle(ctx).QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'available'),
			COUNT(*) FILTER (WHERE status = 'reserved'),
			COUNT(*) FILTER (WHERE status = 'blocked'),
			COUNT(*) FILTER (WHERE status = 'booked'),
			COUNT(*)
       	 FROM stalls
      	 WHERE event_id = $1`,
		eventID,
	).Scan(&c.Available, &c.Reserved, &c.Blocked, &c.Booked, &c.Total)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if c.Total == 0 {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	return &c, nil
}
