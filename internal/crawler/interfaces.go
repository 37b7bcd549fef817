package crawler

import (
	"context"
	"time"
)

// Store is the durable home of persons, relationships and crawl progress.
type Store interface {
	// UpsertPerson inserts a bare unprocessed row for id.
	UpsertPerson(ctx context.Context, id string) (UpsertResult, error)
	// UpdatePerson writes state and every non-nil attribute of p.
	UpdatePerson(ctx context.Context, p Person) error
	// UpdateProfile writes the non-nil attributes and date_retrieved of p
	// and leaves the stored state as it is.
	UpdateProfile(ctx context.Context, p Person) error
	// GetPerson returns ErrNotFound when no row matches id.
	GetPerson(ctx context.Context, id string) (Person, error)
	CountByState(ctx context.Context, state PersonState) (int, error)
	// IteratePending opens a forward-only cursor over persons in state,
	// ordered by id.
	IteratePending(ctx context.Context, state PersonState) (PersonCursor, error)
	IteratePersons(ctx context.Context) (PersonCursor, error)
	IterateRelationships(ctx context.Context) (RelationshipCursor, error)
	// InsertRelationship creates missing endpoints first, then the edge.
	// A duplicate edge is not an error.
	InsertRelationship(ctx context.Context, r Relationship) error
	// ResetState moves every person in from to to and returns the row count.
	ResetState(ctx context.Context, from, to PersonState) (int64, error)
	CreateTables(ctx context.Context) error
	DropTables(ctx context.Context) error
	Close() error
}

// PersonCursor is a single-pass iterator over persons.
type PersonCursor interface {
	Next() bool
	Person() (Person, error)
	Err() error
	Close() error
}

// RelationshipCursor is a single-pass iterator over relationships.
type RelationshipCursor interface {
	Next() bool
	Relationship() (Relationship, error)
	Err() error
	Close() error
}

// Fetcher retrieves raw payloads from the remote social network.
type Fetcher interface {
	// FetchPerson returns ErrNotFound when the id has no profile.
	FetchPerson(ctx context.Context, id string) ([]byte, error)
	FetchFollowers(ctx context.Context, id string) ([]byte, error)
	FetchFollowees(ctx context.Context, id string) ([]byte, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
