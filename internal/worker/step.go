package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/logging"
	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
	"github.com/JakeFAU/socialgraph-crawler/internal/parser"
	"github.com/JakeFAU/socialgraph-crawler/internal/stats"
)

// StepOptions selects which parts of the per-entity step run.
type StepOptions struct {
	FetchProfile      bool
	FetchNeighborhood bool
}

// StepResult summarizes one processed person.
type StepResult struct {
	Person        crawler.Person
	Relationships int
	// Peers lists the other endpoint of every stored relationship, sorted.
	Peers []string
	// ProfileMissing is true when the remote reported no such account.
	ProfileMissing bool
}

// Processor runs the per-entity step shared by every crawl mode.
type Processor struct {
	store   crawler.Store
	fetcher crawler.Fetcher
	parser  *parser.Parser
	clock   crawler.Clock
	logger  *zap.Logger

	insertLatency stats.MovingAverage
}

// NewProcessor wires a Processor.
func NewProcessor(
	store crawler.Store,
	fetcher crawler.Fetcher,
	p *parser.Parser,
	clock crawler.Clock,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p == nil {
		p = parser.New(logger)
	}
	return &Processor{store: store, fetcher: fetcher, parser: p, clock: clock, logger: logger}
}

// InsertLatency returns the moving-average time of one relationship insert.
func (p *Processor) InsertLatency() time.Duration {
	return p.insertLatency.Average()
}

// Process marks person PROCESSING, gathers the requested data, persists it
// and marks the person PROCESSED. A returned error leaves the person in
// PROCESSING.
func (p *Processor) Process(ctx context.Context, person crawler.Person, opts StepOptions) (StepResult, error) {
	log := p.logger.With(zap.String("person_id", person.ID))

	person.State = crawler.StateProcessing
	if err := p.store.UpdatePerson(ctx, person); err != nil {
		return StepResult{}, opError("mark processing", err)
	}

	res := StepResult{}
	if opts.FetchProfile {
		outcome, err := p.RefreshProfile(ctx, &person)
		if err != nil {
			return StepResult{}, err
		}
		res.ProfileMissing = outcome == ProfileMissing
	}

	if opts.FetchNeighborhood {
		rels, err := p.Neighborhood(ctx, person.ID)
		if err != nil {
			return StepResult{}, err
		}
		if err := p.Persist(ctx, rels); err != nil {
			return StepResult{}, err
		}
		res.Relationships = rels.Len()
		res.Peers = rels.PeerIDs(person.ID)
		log.Debug("neighborhood stored", logging.Depth(1), zap.Int("relationships", rels.Len()))
	}

	person.State = crawler.StateProcessed
	person.DateRetrieved = p.clock.Now()
	if err := p.store.UpdatePerson(ctx, person); err != nil {
		return StepResult{}, opError("mark processed", err)
	}
	res.Person = person
	return res, nil
}

// ProfileOutcome reports what RefreshProfile did.
type ProfileOutcome int

// Profile refresh outcomes.
const (
	ProfileUnchanged ProfileOutcome = iota
	ProfileUpdated
	// ProfileMissing means the remote has no such account. It is not an error.
	ProfileMissing
)

func (o ProfileOutcome) String() string {
	switch o {
	case ProfileUpdated:
		return "updated"
	case ProfileMissing:
		return "missing"
	default:
		return "unchanged"
	}
}

// RefreshProfile fetches the profile of person and merges changed attributes
// into it. Nothing is written to the store.
func (p *Processor) RefreshProfile(ctx context.Context, person *crawler.Person) (ProfileOutcome, error) {
	raw, err := p.fetcher.FetchPerson(ctx, person.ID)
	if errors.Is(err, crawler.ErrNotFound) {
		p.logger.Warn("profile not found", logging.Depth(1), zap.String("person_id", person.ID))
		return ProfileMissing, nil
	}
	if err != nil {
		return ProfileUnchanged, opError("fetch person", err)
	}
	fetched, ok, err := p.parser.Person(raw)
	if err != nil {
		return ProfileUnchanged, opError("parse person", err)
	}
	if !ok {
		p.logger.Warn("payload does not describe an account", logging.Depth(1), zap.String("person_id", person.ID))
		return ProfileMissing, nil
	}
	fetched.DateRetrieved = p.clock.Now()
	if person.UpdateFrom(fetched) {
		return ProfileUpdated, nil
	}
	return ProfileUnchanged, nil
}

// Neighborhood fetches both lookups for id and unions the edges.
func (p *Processor) Neighborhood(ctx context.Context, id string) (*crawler.RelationshipSet, error) {
	rels := crawler.NewRelationshipSet()
	for _, lookup := range []struct {
		dir   parser.Direction
		fetch func(context.Context, string) ([]byte, error)
	}{
		{parser.Followers, p.fetcher.FetchFollowers},
		{parser.Followees, p.fetcher.FetchFollowees},
	} {
		raw, err := lookup.fetch(ctx, id)
		if err != nil {
			return nil, opError("fetch "+lookup.dir.String(), err)
		}
		hood, err := p.parser.Neighborhood(raw, id, lookup.dir)
		if err != nil {
			return nil, opError("parse "+lookup.dir.String(), err)
		}
		metrics.AddSelfLoops(hood.SelfLoops)
		if hood.ReportedTotal != nil && *hood.ReportedTotal != hood.Listed {
			p.logger.Info("remote count differs from listed entries",
				logging.Depth(1),
				zap.String("person_id", id),
				zap.Stringer("direction", lookup.dir),
				zap.Int("reported", *hood.ReportedTotal),
				zap.Int("listed", hood.Listed),
			)
		}
		rels.Union(hood.Relationships)
	}
	return rels, nil
}

// Persist stores every relationship in rels, stamping the retrieval time.
func (p *Processor) Persist(ctx context.Context, rels *crawler.RelationshipSet) error {
	now := p.clock.Now()
	for _, r := range rels.Slice() {
		r.DateRetrieved = now
		start := time.Now()
		if err := p.store.InsertRelationship(ctx, r); err != nil {
			return opError("insert relationship", fmt.Errorf("%s -> %s: %w", r.SourceID, r.TargetID, err))
		}
		p.insertLatency.Since(start)
	}
	metrics.AddRelationships(rels.Len())
	return nil
}

// StepError tags a failure with the operation that produced it.
type StepError struct {
	Op  string
	Err error
}

func (e *StepError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func opError(op string, err error) error {
	return &StepError{Op: op, Err: err}
}

// failedOp returns the operation recorded in err, or "unknown".
func failedOp(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Op
	}
	return "unknown"
}
