package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/logging"
	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
)

// EgoResult summarizes an ego-network traversal.
type EgoResult struct {
	Levels        int
	Processed     int
	Skipped       int
	Relationships int
}

// Ego walks the neighborhood of a seed breadth first, one person at a time.
type Ego struct {
	store     crawler.Store
	processor *Processor
	pacer     Pacer
	logger    *zap.Logger
}

// NewEgo constructs an Ego traversal.
func NewEgo(store crawler.Store, processor *Processor, pacer Pacer, logger *zap.Logger) *Ego {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ego{store: store, processor: processor, pacer: pacer, logger: logger}
}

// Run processes seed and every person within radius hops of it. Persons on
// the last level get their profile and are marked processed, but their own
// neighborhood is not fetched. Persons that are not UNPROCESSED are skipped.
// The first hard failure aborts the traversal.
func (e *Ego) Run(ctx context.Context, seed string, radius int) (EgoResult, error) {
	if radius < 0 {
		return EgoResult{}, fmt.Errorf("radius must not be negative, got %d", radius)
	}
	e.logger.Info("retrieving ego network", zap.String("seed", seed), zap.Int("radius", radius))

	var res EgoResult
	handled := make(map[string]struct{})
	level := []string{seed}
	for depth := 0; len(level) > 0; depth++ {
		remaining := radius - depth
		res.Levels++
		e.logger.Info("processing level", logging.Depth(depth), zap.Int("radius", remaining), zap.Int("persons", len(level)))

		next := make(map[string]struct{})
		for _, id := range level {
			handled[id] = struct{}{}
			peers, processed, err := e.visit(ctx, id, remaining > 0, depth+1)
			if err != nil {
				metrics.ObserveEntity("failed")
				e.logger.Error("ego traversal aborted",
					logging.Depth(depth+1),
					zap.String("person_id", id),
					zap.String("op", failedOp(err)),
					zap.Error(err),
				)
				return res, fmt.Errorf("person %s: %w", id, err)
			}
			if !processed {
				res.Skipped++
				continue
			}
			metrics.ObserveEntity("processed")
			res.Processed++
			res.Relationships += peers.relationships
			for _, peer := range peers.ids {
				if _, ok := handled[peer]; !ok {
					next[peer] = struct{}{}
				}
			}
		}
		if remaining == 0 {
			break
		}
		level = sortedKeys(next)
	}
	e.logger.Info("ego network done",
		zap.String("seed", seed),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("relationships", res.Relationships),
	)
	return res, nil
}

type egoPeers struct {
	ids           []string
	relationships int
}

func (e *Ego) visit(ctx context.Context, id string, expand bool, depth int) (egoPeers, bool, error) {
	if _, err := e.store.UpsertPerson(ctx, id); err != nil {
		return egoPeers{}, false, opError("upsert person", err)
	}
	person, err := e.store.GetPerson(ctx, id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			return egoPeers{}, false, opError("get person", fmt.Errorf("row vanished after upsert: %w", err))
		}
		return egoPeers{}, false, opError("get person", err)
	}
	if person.State != crawler.StateUnprocessed {
		e.logger.Debug("skipping person", logging.Depth(depth), zap.String("person_id", id), zap.Stringer("state", person.State))
		return egoPeers{}, false, nil
	}
	if e.pacer != nil {
		if err := e.pacer.Wait(ctx); err != nil {
			return egoPeers{}, false, opError("pace", err)
		}
	}
	res, err := e.processor.Process(ctx, person, StepOptions{FetchProfile: true, FetchNeighborhood: expand})
	if err != nil {
		return egoPeers{}, false, err
	}
	if expand {
		e.logger.Info("processed person", logging.Depth(depth), zap.String("person_id", id), zap.Int("neighbors", len(res.Peers)))
	} else {
		e.logger.Info("processed person, radius reached", logging.Depth(depth), zap.String("person_id", id))
	}
	return egoPeers{ids: res.Peers, relationships: res.Relationships}, true, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
