package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/storage/idcache"
)

var personColumns = []string{"id", "date_retrieved", "first_name", "last_name", "profile_url", "picture_url", "state"}

func strPtr(s string) *string { return &s }

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	known, err := idcache.New(idcache.DefaultSize)
	require.NoError(t, err)
	store, err := NewStoreWithPool(mock, known, nil)
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil, nil, nil)
	require.Error(t, err)
}

func TestNewStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewStore(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestPoolSizeLeavesRoomBesideCursor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int32(2), poolSize(1))
	assert.Equal(t, int32(2), poolSize(2))
	assert.Equal(t, int32(8), poolSize(8))
}

func TestUpsertPerson(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO person").
		WithArgs("A", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO person").
		WithArgs("A", 0).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectExec("INSERT INTO person").
		WithArgs("B", 0).
		WillReturnError(errors.New("connection reset"))

	res, err := store.UpsertPerson(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, crawler.Inserted, res)

	res, err = store.UpsertPerson(ctx, "A")
	require.NoError(t, err, "duplicate key is not an error")
	assert.Equal(t, crawler.AlreadyExists, res)

	_, err = store.UpsertPerson(ctx, "B")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePersonSetsOnlyPresentColumns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE person SET state = \$1, first_name = \$2 WHERE id = \$3`).
		WithArgs(2, "Ada", "A").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE person SET state = \$1 WHERE id = \$2`).
		WithArgs(1, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.UpdatePerson(ctx, crawler.Person{
		ID: "A", FirstName: strPtr("Ada"), State: crawler.StateProcessed,
	}))
	err := store.UpdatePerson(ctx, crawler.Person{ID: "missing", State: crawler.StateProcessing})
	require.ErrorIs(t, err, crawler.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProfileLeavesStateAlone(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE person SET first_name = \$1, last_name = \$2 WHERE id = \$3`).
		WithArgs("Ada", "Lovelace", "A").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE person SET first_name = \$1 WHERE id = \$2`).
		WithArgs("Ada", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.UpdateProfile(ctx, crawler.Person{
		ID: "A", FirstName: strPtr("Ada"), LastName: strPtr("Lovelace"), State: crawler.StateUnprocessed,
	}))
	err := store.UpdateProfile(ctx, crawler.Person{ID: "missing", FirstName: strPtr("Ada")})
	require.ErrorIs(t, err, crawler.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPerson(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

	mock.ExpectQuery("SELECT id, date_retrieved, first_name").
		WithArgs("A").
		WillReturnRows(pgxmock.NewRows(personColumns).
			AddRow("A", &at, strPtr("Ada"), (*string)(nil), (*string)(nil), strPtr("https://pic"), 2))
	mock.ExpectQuery("SELECT id, date_retrieved, first_name").
		WithArgs("Z").
		WillReturnError(pgx.ErrNoRows)

	p, err := store.GetPerson(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "A", p.ID)
	assert.Equal(t, at, p.DateRetrieved)
	assert.Equal(t, "Ada", crawler.StringValue(p.FirstName))
	assert.Nil(t, p.LastName)
	assert.Equal(t, "https://pic", crawler.StringValue(p.PictureURL))
	assert.Equal(t, crawler.StateProcessed, p.State)

	_, err = store.GetPerson(ctx, "Z")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM person WHERE state = \$1`).
		WithArgs(0).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.CountByState(context.Background(), crawler.StateUnprocessed)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIteratePending(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM person WHERE state = \$1 ORDER BY id`).
		WithArgs(0).
		WillReturnRows(pgxmock.NewRows(personColumns).
			AddRow("a", (*time.Time)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), 0).
			AddRow("b", (*time.Time)(nil), (*string)(nil), (*string)(nil), (*string)(nil), (*string)(nil), 0))

	cur, err := store.IteratePending(context.Background(), crawler.StateUnprocessed)
	require.NoError(t, err)
	var ids []string
	for cur.Next() {
		p, err := cur.Person()
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	require.NoError(t, cur.Close())
	assert.Equal(t, []string{"a", "b"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRelationshipEnsuresEndpointsOnce(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO person").
		WithArgs("A", 0).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectExec("INSERT INTO person").
		WithArgs("B", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO relationship").
		WithArgs("A", "B", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// Endpoints are cached now, so only the edge insert runs; it collides.
	mock.ExpectExec("INSERT INTO relationship").
		WithArgs("A", "B", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectExec("INSERT INTO relationship").
		WithArgs("B", "A", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))

	rel := crawler.Relationship{SourceID: "A", TargetID: "B"}
	require.NoError(t, store.InsertRelationship(ctx, rel))
	require.NoError(t, store.InsertRelationship(ctx, rel), "duplicate edge is swallowed")
	require.Error(t, store.InsertRelationship(ctx, crawler.Relationship{SourceID: "B", TargetID: "A"}))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaLifecycle(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	store.known.Remember("A")

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS person").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS person_state_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS relationship").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("DROP TABLE IF EXISTS relationship").WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec("DROP TABLE IF EXISTS person").WillReturnResult(pgxmock.NewResult("DROP", 0))

	require.NoError(t, store.CreateTables(ctx))
	require.NoError(t, store.DropTables(ctx))
	assert.False(t, store.known.Known("A"), "dropping tables forgets cached ids")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE person SET state = \$1 WHERE state = \$2`).
		WithArgs(0, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := store.ResetState(context.Background(), crawler.StateProcessing, crawler.StateUnprocessed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
