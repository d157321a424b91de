package freshness

import (
	"context"
	"errors"
	"log/slog"

	"github.com/financevibe/fdv/internal/storage"
)

// MetadataLookup reads the collection progress of one entity.
type MetadataLookup interface {
	GetCollectionMetadata(entityID string) (storage.CollectionMetadata, error)
}

// Work is one entity that needs fetching and the range to fetch.
type Work struct {
	Entity storage.Entity
	Range  Range
	// LookupErr is set when the metadata lookup failed and the entity was
	// scheduled as new.
	LookupErr error
}

// Partition splits a batch into entities that need work and those that are
// already fresh. Both slices keep the input order.
type Partition struct {
	NeedsFetch   []Work
	AlreadyFresh []storage.Entity
}

// Gate runs the date-range calculation for each entity of a batch.
type Gate struct {
	lookup   MetadataLookup
	policy   Policy
	calendar TradingCalendar
	logger   *slog.Logger
}

type GateOption func(*Gate)

func WithPolicy(p Policy) GateOption {
	return func(g *Gate) { g.policy = p }
}

// WithCalendar makes the gate measure freshness against the latest trading
// session on or before today instead of today itself.
func WithCalendar(c TradingCalendar) GateOption {
	return func(g *Gate) { g.calendar = c }
}

func NewGate(lookup MetadataLookup, opts ...GateOption) *Gate {
	g := &Gate{
		lookup: lookup,
		policy: DefaultPolicy(),
		logger: slog.Default().With("component", "freshness"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reference returns the day freshness is measured against.
func (g *Gate) Reference(today Date) Date {
	if g.calendar == nil {
		return today
	}
	return g.calendar.LatestSession(today)
}

// Check computes the range for a single entity. A failed lookup schedules the
// entity as new and the lookup error is returned alongside the range.
func (g *Gate) Check(entityID string, today Date) (Range, error) {
	ref := g.Reference(today)

	var last *Date
	var lookupErr error
	m, err := g.lookup.GetCollectionMetadata(entityID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		lookupErr = err
	case m.LastObservedDate != nil:
		d := DateOf(*m.LastObservedDate)
		last = &d
	}

	r, err := g.policy.Calculate(last, ref)
	if err != nil {
		return Range{}, err
	}
	return r, lookupErr
}

// Partition decides, per entity, whether a refetch is needed. It only fails
// on an invalid today or a cancelled context. Lookup failures never block the
// rest of the batch.
func (g *Gate) Partition(ctx context.Context, entities []storage.Entity, today Date) (Partition, error) {
	var p Partition
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return p, err
		}

		r, err := g.Check(e.ID, today)
		var lookupErr error
		if err != nil {
			if r.Reason == "" {
				return p, err
			}
			lookupErr = err
			g.logger.Warn("metadata lookup failed, treating as new entity", "entity", e.ID, "error", err)
		}

		if !r.ShouldFetch {
			p.AlreadyFresh = append(p.AlreadyFresh, e)
			continue
		}
		p.NeedsFetch = append(p.NeedsFetch, Work{Entity: e, Range: r, LookupErr: lookupErr})
	}
	return p, nil
}
