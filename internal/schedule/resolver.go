package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/mastertime-app/mastertime/internal/interval"
)

// Store is the read side of the schedule data managed by the back office.
type Store interface {
	// GetException returns nil when no exception exists for the date.
	GetException(ctx context.Context, staffID string, date time.Time) (*Exception, error)
	// GetTemplateEntry returns nil when the staff member has no entry for the weekday.
	GetTemplateEntry(ctx context.Context, staffID string, weekday int) (*TemplateEntry, error)
	ListBlockers(ctx context.Context, staffID string, date time.Time) ([]Blocker, error)
}

// Resolver derives a staff member's working time for one calendar date.
// It is the single source of truth for "is this person working, and when":
// exception beats template, no template means day off, and intraday blockers
// are carved out of whichever base window won.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// DayBasis is the resolved base window for a date, before blockers.
type DayBasis struct {
	Kind  BasisKind
	Hours interval.Span
}

// Basis resolves the exception > template > none priority for one date.
// An override exception with missing or inverted bounds fails closed as a
// day off rather than falling back to the template.
func (r *Resolver) Basis(ctx context.Context, staffID string, date time.Time) (DayBasis, error) {
	exc, err := r.store.GetException(ctx, staffID, date)
	if err != nil {
		return DayBasis{}, fmt.Errorf("load schedule exception: %w", err)
	}
	if exc != nil {
		if exc.IsDayOff {
			return DayBasis{Kind: BasisDayOff}, nil
		}
		if exc.StartMinute == nil || exc.EndMinute == nil || *exc.EndMinute <= *exc.StartMinute {
			return DayBasis{Kind: BasisDayOff}, nil
		}
		return DayBasis{
			Kind:  BasisOverride,
			Hours: interval.Span{Start: *exc.StartMinute, End: *exc.EndMinute},
		}, nil
	}

	entry, err := r.store.GetTemplateEntry(ctx, staffID, int(date.Weekday()))
	if err != nil {
		return DayBasis{}, fmt.Errorf("load weekly template: %w", err)
	}
	if entry == nil || !entry.Valid() {
		return DayBasis{Kind: BasisNone}, nil
	}
	return DayBasis{
		Kind:  BasisTemplate,
		Hours: interval.Span{Start: entry.StartMinute, End: entry.EndMinute},
	}, nil
}

// WorkingIntervals returns the ordered, disjoint working spans for the date,
// in minutes from local midnight, with blockers subtracted. A day off (or no
// schedule at all) yields an empty slice, not an error.
func (r *Resolver) WorkingIntervals(ctx context.Context, staffID string, date time.Time) ([]interval.Span, error) {
	basis, err := r.Basis(ctx, staffID, date)
	if err != nil {
		return nil, err
	}
	switch basis.Kind {
	case BasisDayOff, BasisNone:
		return nil, nil
	}

	blockers, err := r.store.ListBlockers(ctx, staffID, date)
	if err != nil {
		return nil, fmt.Errorf("load time blockers: %w", err)
	}
	cut := make([]interval.Span, 0, len(blockers))
	for _, b := range blockers {
		cut = append(cut, interval.Span{Start: b.StartMinute, End: b.EndMinute})
	}
	return interval.Subtract([]interval.Span{basis.Hours}, cut), nil
}
