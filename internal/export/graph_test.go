package export

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedWrite struct {
	cypher string
	rows   []any
}

type recordingWriter struct {
	writes []recordedWrite
	failOn int
}

func (r *recordingWriter) write(_ context.Context, cypher string, params map[string]any) error {
	if r.failOn > 0 && len(r.writes)+1 == r.failOn {
		return errors.New("bolt unavailable")
	}
	rows, _ := params["batch"].([]any)
	r.writes = append(r.writes, recordedWrite{cypher: cypher, rows: rows})
	return nil
}

func TestGraphSinkExportBatches(t *testing.T) {
	t.Parallel()

	rec := &recordingWriter{}
	sink := NewGraphSinkWithWriter(rec.write, 2, nil)

	st, err := sink.Export(context.Background(), newGraphStore(t))
	require.NoError(t, err)
	assert.Equal(t, GraphStats{Persons: 3, Relationships: 2, Batches: 3}, st)

	require.Len(t, rec.writes, 3)
	assert.Equal(t, mergePersons, rec.writes[0].cypher)
	assert.Len(t, rec.writes[0].rows, 2)
	assert.Len(t, rec.writes[1].rows, 1)
	assert.Equal(t, mergeFollows, rec.writes[2].cypher)

	first := rec.writes[0].rows[0].(map[string]any)
	assert.Equal(t, "A", first["id"])
	assert.Equal(t, "Ada", first["first_name"])
	assert.Equal(t, "processed", first["state"])
	assert.Nil(t, first["date_retrieved"])

	edge := rec.writes[2].rows[0].(map[string]any)
	assert.Equal(t, "A", edge["source"])
	assert.Equal(t, "B", edge["target"])
	assert.InDelta(t, 0.5, edge["strength"], 1e-9)
	assert.NotNil(t, edge["date_retrieved"])

	other := rec.writes[2].rows[1].(map[string]any)
	assert.Nil(t, other["strength"])
	require.NoError(t, sink.Close(context.Background()))
}

func TestGraphSinkPropagatesWriteErrors(t *testing.T) {
	t.Parallel()

	rec := &recordingWriter{failOn: 1}
	sink := NewGraphSinkWithWriter(rec.write, 10, nil)
	_, err := sink.Export(context.Background(), newGraphStore(t))
	require.Error(t, err)
	assert.ErrorContains(t, err, "export persons")
}

func TestNewGraphSinkRequiresURI(t *testing.T) {
	t.Parallel()

	_, err := NewGraphSink(context.Background(), GraphConfig{}, nil)
	require.Error(t, err)
}
