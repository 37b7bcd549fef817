package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// ProfileStats counts the outcomes of a profile refresh pass.
type ProfileStats struct {
	Seen      int `json:"seen"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Missing   int `json:"missing"`
	Failed    int `json:"failed"`
}

// ProfileRefresher re-fetches the profile of every stored person.
type ProfileRefresher struct {
	store     crawler.Store
	processor *Processor
	pacer     Pacer
	logger    *zap.Logger
}

// NewProfileRefresher constructs a ProfileRefresher.
func NewProfileRefresher(store crawler.Store, processor *Processor, pacer Pacer, logger *zap.Logger) *ProfileRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileRefresher{store: store, processor: processor, pacer: pacer, logger: logger}
}

// Run walks all persons, writing back only the ones whose attributes changed.
// The write goes through UpdateProfile, so a state change made by a concurrent
// crawl survives. Per-person failures are logged and counted.
func (r *ProfileRefresher) Run(ctx context.Context) (ProfileStats, error) {
	var st ProfileStats
	cur, err := r.store.IteratePersons(ctx)
	if err != nil {
		return st, fmt.Errorf("iterate persons: %w", err)
	}
	defer func() {
		if cerr := cur.Close(); cerr != nil {
			r.logger.Warn("close person cursor", zap.Error(cerr))
		}
	}()

	for cur.Next() {
		if err := ctx.Err(); err != nil {
			return st, fmt.Errorf("profile refresh interrupted: %w", err)
		}
		person, err := cur.Person()
		if err != nil {
			return st, fmt.Errorf("read person: %w", err)
		}
		st.Seen++
		if r.pacer != nil {
			if err := r.pacer.Wait(ctx); err != nil {
				return st, fmt.Errorf("profile refresh interrupted: %w", err)
			}
		}
		outcome, err := r.processor.RefreshProfile(ctx, &person)
		if err != nil {
			st.Failed++
			r.logger.Error("profile refresh failed",
				zap.String("person_id", person.ID),
				zap.String("op", failedOp(err)),
				zap.Error(err),
			)
			continue
		}
		switch outcome {
		case ProfileMissing:
			st.Missing++
		case ProfileUnchanged:
			st.Unchanged++
		case ProfileUpdated:
			if err := r.store.UpdateProfile(ctx, person); err != nil {
				st.Failed++
				r.logger.Error("profile update failed",
					zap.String("person_id", person.ID),
					zap.String("op", "update profile"),
					zap.Error(err),
				)
				continue
			}
			st.Updated++
			r.logger.Debug("profile updated", zap.String("person_id", person.ID))
		}
	}
	if err := cur.Err(); err != nil {
		return st, fmt.Errorf("iterate persons: %w", err)
	}
	r.logger.Info("profile refresh done",
		zap.Int("seen", st.Seen),
		zap.Int("updated", st.Updated),
		zap.Int("missing", st.Missing),
		zap.Int("failed", st.Failed),
	)
	return st, nil
}
