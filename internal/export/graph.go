package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// DefaultBatchSize is the number of rows sent per UNWIND statement.
const DefaultBatchSize = 500

const (
	mergePersons = `UNWIND $batch AS row
MERGE (p:Person {id: row.id})
SET p.first_name = row.first_name,
    p.last_name = row.last_name,
    p.profile_url = row.profile_url,
    p.picture_url = row.picture_url,
    p.state = row.state,
    p.date_retrieved = row.date_retrieved`

	mergeFollows = `UNWIND $batch AS row
MERGE (s:Person {id: row.source})
MERGE (t:Person {id: row.target})
MERGE (s)-[r:FOLLOWS]->(t)
SET r.strength = row.strength,
    r.date_retrieved = row.date_retrieved`
)

// GraphConfig locates the graph database.
type GraphConfig struct {
	URI       string
	Username  string
	Password  string
	BatchSize int
}

// WriteFunc runs one write statement in its own transaction.
type WriteFunc func(ctx context.Context, cypher string, params map[string]any) error

// GraphStats counts what GraphSink pushed.
type GraphStats struct {
	Persons       int `json:"persons"`
	Relationships int `json:"relationships"`
	Batches       int `json:"batches"`
}

// GraphSink copies the store into a Neo4j or Memgraph database as
// (:Person)-[:FOLLOWS]->(:Person). Re-running an export is idempotent.
type GraphSink struct {
	write     WriteFunc
	close     func(context.Context) error
	batchSize int
	logger    *zap.Logger
}

// NewGraphSink connects to the database described by cfg.
func NewGraphSink(ctx context.Context, cfg GraphConfig, logger *zap.Logger) (*GraphSink, error) {
	if cfg.URI == "" {
		return nil, errors.New("graph uri is required")
	}
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("create graph driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify graph connectivity: %w", err)
	}
	sink := NewGraphSinkWithWriter(driverWriter(driver), cfg.BatchSize, logger)
	sink.close = driver.Close
	return sink, nil
}

// NewGraphSinkWithWriter builds a sink over an arbitrary write function.
func NewGraphSinkWithWriter(write WriteFunc, batchSize int, logger *zap.Logger) *GraphSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &GraphSink{write: write, batchSize: batchSize, logger: logger}
}

func driverWriter(driver neo4j.DriverWithContext) WriteFunc {
	return func(ctx context.Context, cypher string, params map[string]any) error {
		session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer func() { _ = session.Close(ctx) }()

		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			return result.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("graph write: %w", err)
		}
		return nil
	}
}

// Close releases the driver.
func (g *GraphSink) Close(ctx context.Context) error {
	if g.close == nil {
		return nil
	}
	if err := g.close(ctx); err != nil {
		return fmt.Errorf("close graph driver: %w", err)
	}
	return nil
}

// Export pushes every person, then every relationship, in batches.
func (g *GraphSink) Export(ctx context.Context, store crawler.Store) (GraphStats, error) {
	var st GraphStats

	persons, err := store.IteratePersons(ctx)
	if err != nil {
		return st, fmt.Errorf("iterate persons: %w", err)
	}
	err = g.drain(ctx, mergePersons, &st.Batches, func() (map[string]any, bool, error) {
		if !persons.Next() {
			return nil, false, persons.Err()
		}
		p, err := persons.Person()
		if err != nil {
			return nil, false, err
		}
		st.Persons++
		return personRow(p), true, nil
	})
	if cerr := persons.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return st, fmt.Errorf("export persons: %w", err)
	}

	rels, err := store.IterateRelationships(ctx)
	if err != nil {
		return st, fmt.Errorf("iterate relationships: %w", err)
	}
	err = g.drain(ctx, mergeFollows, &st.Batches, func() (map[string]any, bool, error) {
		if !rels.Next() {
			return nil, false, rels.Err()
		}
		r, err := rels.Relationship()
		if err != nil {
			return nil, false, err
		}
		st.Relationships++
		return relationshipRow(r), true, nil
	})
	if cerr := rels.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return st, fmt.Errorf("export relationships: %w", err)
	}

	g.logger.Info("graph export done",
		zap.Int("persons", st.Persons),
		zap.Int("relationships", st.Relationships),
		zap.Int("batches", st.Batches),
	)
	return st, nil
}

func (g *GraphSink) drain(
	ctx context.Context,
	cypher string,
	batches *int,
	next func() (map[string]any, bool, error),
) error {
	batch := make([]any, 0, g.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := g.write(ctx, cypher, map[string]any{"batch": batch}); err != nil {
			return err
		}
		*batches++
		g.logger.Debug("graph batch written", zap.Int("rows", len(batch)))
		batch = make([]any, 0, g.batchSize)
		return nil
	}
	for {
		row, ok, err := next()
		if err != nil {
			return err
		}
		if !ok {
			return flush()
		}
		batch = append(batch, row)
		if len(batch) >= g.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func personRow(p crawler.Person) map[string]any {
	row := map[string]any{
		"id":             p.ID,
		"first_name":     optional(p.FirstName),
		"last_name":      optional(p.LastName),
		"profile_url":    optional(p.ProfileURL),
		"picture_url":    optional(p.PictureURL),
		"state":          p.State.String(),
		"date_retrieved": nil,
	}
	if !p.DateRetrieved.IsZero() {
		row["date_retrieved"] = p.DateRetrieved
	}
	return row
}

func relationshipRow(r crawler.Relationship) map[string]any {
	row := map[string]any{
		"source":         r.SourceID,
		"target":         r.TargetID,
		"strength":       nil,
		"date_retrieved": nil,
	}
	if r.Strength != nil {
		row["strength"] = *r.Strength
	}
	if !r.DateRetrieved.IsZero() {
		row["date_retrieved"] = r.DateRetrieved
	}
	return row
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
