// Package storagetest runs the entity store contract against any backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// Factory returns a fresh store with its tables created.
type Factory func(t *testing.T) crawler.Store

// Run exercises every store operation against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("upsert is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		res, err := s.UpsertPerson(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, crawler.Inserted, res)

		res, err = s.UpsertPerson(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, crawler.AlreadyExists, res)

		n, err := s.CountByState(ctx, crawler.StateUnprocessed)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		p, err := s.GetPerson(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, crawler.StateUnprocessed, p.State)
		assert.True(t, p.DateRetrieved.IsZero())
	})

	t.Run("update leaves absent attributes untouched", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.UpsertPerson(ctx, "A")
		require.NoError(t, err)

		first, last := "Ada", "Lovelace"
		at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
		require.NoError(t, s.UpdatePerson(ctx, crawler.Person{
			ID: "A", FirstName: &first, DateRetrieved: at, State: crawler.StateProcessing,
		}))
		require.NoError(t, s.UpdatePerson(ctx, crawler.Person{
			ID: "A", LastName: &last, State: crawler.StateProcessed,
		}))

		p, err := s.GetPerson(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, "Ada", crawler.StringValue(p.FirstName))
		assert.Equal(t, "Lovelace", crawler.StringValue(p.LastName))
		assert.Nil(t, p.ProfileURL)
		assert.True(t, at.Equal(p.DateRetrieved), "got %v", p.DateRetrieved)
		assert.Equal(t, crawler.StateProcessed, p.State)
	})

	t.Run("profile update keeps state", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.UpsertPerson(ctx, "A")
		require.NoError(t, err)
		require.NoError(t, s.UpdatePerson(ctx, crawler.Person{ID: "A", State: crawler.StateProcessed}))

		first := "Grace"
		at := time.Date(2024, 6, 7, 8, 9, 10, 0, time.UTC)
		require.NoError(t, s.UpdateProfile(ctx, crawler.Person{
			ID: "A", FirstName: &first, DateRetrieved: at, State: crawler.StateUnprocessed,
		}))

		p, err := s.GetPerson(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, crawler.StateProcessed, p.State)
		assert.Equal(t, "Grace", crawler.StringValue(p.FirstName))
		assert.True(t, at.Equal(p.DateRetrieved), "got %v", p.DateRetrieved)

		err = s.UpdateProfile(ctx, crawler.Person{ID: "nobody", FirstName: &first})
		require.ErrorIs(t, err, crawler.ErrNotFound)
	})

	t.Run("missing person", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetPerson(ctx, "nobody")
		require.ErrorIs(t, err, crawler.ErrNotFound)

		err = s.UpdatePerson(ctx, crawler.Person{ID: "nobody", State: crawler.StateProcessed})
		require.ErrorIs(t, err, crawler.ErrNotFound)
	})

	t.Run("relationships create endpoints and ignore duplicates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.UpsertPerson(ctx, "A")
		require.NoError(t, err)

		strength := 0.5
		at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		rel := crawler.Relationship{SourceID: "A", TargetID: "B", Strength: &strength, DateRetrieved: at}
		require.NoError(t, s.InsertRelationship(ctx, rel))
		require.NoError(t, s.InsertRelationship(ctx, rel))
		require.NoError(t, s.InsertRelationship(ctx, crawler.Relationship{SourceID: "C", TargetID: "A"}))

		edges := collectRelationships(t, s)
		require.Len(t, edges, 2)
		assert.Equal(t, crawler.EdgeKey{SourceID: "A", TargetID: "B"}, edges[0].Key())
		require.NotNil(t, edges[0].Strength)
		assert.InDelta(t, 0.5, *edges[0].Strength, 1e-6)
		assert.True(t, at.Equal(edges[0].DateRetrieved))
		assert.Nil(t, edges[1].Strength)

		for _, e := range edges {
			for _, id := range []string{e.SourceID, e.TargetID} {
				p, err := s.GetPerson(ctx, id)
				require.NoError(t, err, "endpoint %s must exist", id)
				if id != "A" {
					assert.Equal(t, crawler.StateUnprocessed, p.State)
				}
			}
		}
	})

	t.Run("iterate pending by state in id order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, id := range []string{"c", "a", "d", "b"} {
			_, err := s.UpsertPerson(ctx, id)
			require.NoError(t, err)
		}
		require.NoError(t, s.UpdatePerson(ctx, crawler.Person{ID: "d", State: crawler.StateProcessed}))

		cur, err := s.IteratePending(ctx, crawler.StateUnprocessed)
		require.NoError(t, err)
		var ids []string
		for cur.Next() {
			p, err := cur.Person()
			require.NoError(t, err)
			ids = append(ids, p.ID)
		}
		require.NoError(t, cur.Err())
		require.NoError(t, cur.Close())
		assert.Equal(t, []string{"a", "b", "c"}, ids)

		all := collectPersons(t, s)
		assert.Len(t, all, 4)
	})

	t.Run("reset state", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			_, err := s.UpsertPerson(ctx, id)
			require.NoError(t, err)
		}
		require.NoError(t, s.UpdatePerson(ctx, crawler.Person{ID: "a", State: crawler.StateProcessing}))
		require.NoError(t, s.UpdatePerson(ctx, crawler.Person{ID: "b", State: crawler.StateProcessing}))

		n, err := s.ResetState(ctx, crawler.StateProcessing, crawler.StateUnprocessed)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		count, err := s.CountByState(ctx, crawler.StateUnprocessed)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("drop and recreate tables", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.InsertRelationship(ctx, crawler.Relationship{SourceID: "A", TargetID: "B"}))

		require.NoError(t, s.DropTables(ctx))
		require.NoError(t, s.CreateTables(ctx))
		require.NoError(t, s.CreateTables(ctx))

		n, err := s.CountByState(ctx, crawler.StateUnprocessed)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Empty(t, collectRelationships(t, s))

		require.NoError(t, s.InsertRelationship(ctx, crawler.Relationship{SourceID: "A", TargetID: "B"}))
		assert.Len(t, collectPersons(t, s), 2, "endpoints are recreated after a drop")
	})
}

func collectPersons(t *testing.T, s crawler.Store) []crawler.Person {
	t.Helper()
	cur, err := s.IteratePersons(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, cur.Close()) }()
	var out []crawler.Person
	for cur.Next() {
		p, err := cur.Person()
		require.NoError(t, err)
		out = append(out, p)
	}
	require.NoError(t, cur.Err())
	return out
}

func collectRelationships(t *testing.T, s crawler.Store) []crawler.Relationship {
	t.Helper()
	cur, err := s.IterateRelationships(context.Background())
	require.NoError(t, err)
	defer func() { require.NoError(t, cur.Close()) }()
	var out []crawler.Relationship
	for cur.Next() {
		r, err := cur.Relationship()
		require.NoError(t, err)
		out = append(out, r)
	}
	require.NoError(t, cur.Err())
	return out
}
