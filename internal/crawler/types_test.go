package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestPersonUpdateFrom(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p := Person{ID: "1", FirstName: strPtr("Ada"), State: StateProcessing}

	changed := p.UpdateFrom(Person{ID: "1", FirstName: strPtr("Ada"), DateRetrieved: now})
	assert.False(t, changed, "identical values are not a modification")
	assert.True(t, p.DateRetrieved.IsZero())

	changed = p.UpdateFrom(Person{
		FirstName:     nil,
		LastName:      strPtr("Lovelace"),
		PictureURL:    strPtr("https://img/1"),
		DateRetrieved: now,
	})
	require.True(t, changed)
	assert.Equal(t, "Ada", StringValue(p.FirstName), "nil incoming value leaves field untouched")
	assert.Equal(t, "Lovelace", StringValue(p.LastName))
	assert.Equal(t, "https://img/1", StringValue(p.PictureURL))
	assert.Nil(t, p.ProfileURL)
	assert.Equal(t, now, p.DateRetrieved)
	assert.Equal(t, StateProcessing, p.State, "state is not copied")
}

func TestRelationshipSetCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	strength := 0.5
	set := NewRelationshipSet(
		Relationship{SourceID: "A", TargetID: "B", Strength: &strength},
		Relationship{SourceID: "A", TargetID: "B"},
	)
	other := NewRelationshipSet(
		Relationship{SourceID: "C", TargetID: "A"},
		Relationship{SourceID: "A", TargetID: "B"},
	)
	set.Union(other)

	require.Equal(t, 2, set.Len())
	edges := set.Slice()
	assert.Equal(t, EdgeKey{SourceID: "A", TargetID: "B"}, edges[0].Key())
	require.NotNil(t, edges[0].Strength, "first inserted edge wins")
	assert.InDelta(t, 0.5, *edges[0].Strength, 1e-9)
	assert.Equal(t, EdgeKey{SourceID: "C", TargetID: "A"}, edges[1].Key())
	assert.Equal(t, []string{"B", "C"}, set.PeerIDs("A"))
}

func TestParseState(t *testing.T) {
	t.Parallel()

	for _, s := range []PersonState{StateUnprocessed, StateProcessing, StateProcessed} {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.True(t, s.Valid())
	}
	_, err := ParseState("bogus")
	require.Error(t, err)
	assert.False(t, PersonState(7).Valid())
	assert.Equal(t, "state(7)", PersonState(7).String())
}

func TestRelationshipSelfLoop(t *testing.T) {
	t.Parallel()

	assert.True(t, Relationship{SourceID: "X", TargetID: "X"}.IsSelfLoop())
	assert.False(t, Relationship{SourceID: "X", TargetID: "Y"}.IsSelfLoop())
}
