package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/expozone/stallbook/internal/domain"
	"github.com/expozone/stallbook/internal/repository"
	redisrepo "github.com/expozone/stallbook/internal/repository/redis"
)

type Store interface {
	GetEvent(ctx context.Context, id int64) (domain.Event, error)
	GetStall(ctx context.Context, eventID, stallID int64) (domain.Stall, error)
	ListStalls(ctx context.Context, eventID int64, onlyAvailable bool, limit, offset int) ([]domain.Stall, error)
	CountStallsByStatus(ctx context.Context, eventID int64) (*domain.StallCounts, error)
	GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error)
	GetApplicationHistory(ctx context.Context, id uuid.UUID) ([]domain.StatusChange, error)
}

// Service answers the read side. Event-scoped reads go through the redis
// cache; application reads hit postgres directly since they are
// per-caller and carry authorization.
type Service struct {
	store Store
	cache *redisrepo.Cache

	cacheTTL time.Duration
}

func New(store Store, cache *redisrepo.Cache) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		cacheTTL: 30 * time.Second,
	}
}

func (s *Service) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	const op = "service.query.GetEvent"

	ev, err := redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyEventSummary(id), s.cacheTTL,
		func(ctx context.Context) (domain.Event, error) {
			return s.store.GetEvent(ctx, id)
		})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Event{}, fmt.Errorf("%s: %w", op, ErrEventNotFound)
		}
		return domain.Event{}, fmt.Errorf("%s: %w", op, err)
	}

	return ev, nil
}

// ListStalls returns stalls for an event, optionally restricted to the
// ones still open for application. Only the unfiltered first page is
// cached; filtered and paginated reads go straight to postgres.
func (s *Service) ListStalls(ctx context.Context, eventID int64, onlyAvailable bool, limit, offset int) ([]domain.Stall, error) {
	const op = "service.query.ListStalls"

	if limit <= 0 || limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if onlyAvailable || offset > 0 {
		stalls, err := s.store.ListStalls(ctx, eventID, onlyAvailable, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return stalls, nil
	}

	stalls, err := redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyEventStalls(eventID), s.cacheTTL,
		func(ctx context.Context) ([]domain.Stall, error) {
			return s.store.ListStalls(ctx, eventID, false, limit, 0)
		})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return stalls, nil
}

func (s *Service) GetAvailability(ctx context.Context, eventID int64) (domain.StallCounts, error) {
	const op = "service.query.GetAvailability"

	counts, err := redisrepo.GetOrSetJSON(ctx, s.cache, redisrepo.KeyEventAvailability(eventID), s.cacheTTL,
		func(ctx context.Context) (domain.StallCounts, error) {
			c, err := s.store.CountStallsByStatus(ctx, eventID)
			if err != nil {
				return domain.StallCounts{}, err
			}
			return *c, nil
		})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.StallCounts{}, fmt.Errorf("%s: %w", op, ErrEventNotFound)
		}
		return domain.StallCounts{}, fmt.Errorf("%s: %w", op, err)
	}

	return counts, nil
}

func (s *Service) GetStall(ctx context.Context, eventID, stallID int64) (domain.Stall, error) {
	const op = "service.query.GetStall"

	st, err := s.store.GetStall(ctx, eventID, stallID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Stall{}, fmt.Errorf("%s: %w", op, ErrStallNotFound)
		}
		return domain.Stall{}, fmt.Errorf("%s: %w", op, err)
	}

	return st, nil
}

// GetApplication returns an application with its full status history.
// Only the applying vendor or the event's organizer may read it.
func (s *Service) GetApplication(ctx context.Context, id uuid.UUID, callerID int64, callerRole string) (domain.ApplicationWithHistory, error) {
	const op = "service.query.GetApplication"

	a, err := s.store.GetApplication(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ApplicationWithHistory{}, fmt.Errorf("%s: %w", op, ErrApplicationNotFound)
		}
		return domain.ApplicationWithHistory{}, fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case callerRole == "vendor" && a.VendorID == callerID:
	case callerRole == "organizer":
		ev, err := s.store.GetEvent(ctx, a.EventID)
		if err != nil {
			return domain.ApplicationWithHistory{}, fmt.Errorf("%s: %w", op, err)
		}
		if ev.OrganizerID != callerID {
			return domain.ApplicationWithHistory{}, fmt.Errorf("%s: %w", op, ErrForbidden)
		}
	default:
		return domain.ApplicationWithHistory{}, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	history, err := s.store.GetApplicationHistory(ctx, id)
	if err != nil {
		return domain.ApplicationWithHistory{}, fmt.Errorf("%s: %w", op, err)
	}

	return domain.ApplicationWithHistory{Application: a, History: history}, nil
}
