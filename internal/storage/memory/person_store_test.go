package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	t.Parallel()

	storagetest.Run(t, func(*testing.T) crawler.Store { return NewStore() })
}

func TestStoreCursorIsSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	_, err := s.UpsertPerson(ctx, "a")
	require.NoError(t, err)

	cur, err := s.IteratePending(ctx, crawler.StateUnprocessed)
	require.NoError(t, err)
	_, err = s.UpsertPerson(ctx, "b")
	require.NoError(t, err)

	var ids []string
	for cur.Next() {
		p, err := cur.Person()
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"a"}, ids, "rows added after open are not visible")
	assert.False(t, cur.Next())
	_, err = cur.Person()
	require.Error(t, err)
}

func TestStoreConcurrentRelationshipInserts(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.InsertRelationship(ctx, crawler.Relationship{SourceID: "A", TargetID: "B"}))
		}()
	}
	wg.Wait()

	assert.Len(t, s.Relationships(), 1)
	n, err := s.CountByState(ctx, crawler.StateUnprocessed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
