// Package memory provides an in-process entity store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// Store keeps persons and relationships in maps guarded by one RWMutex.
type Store struct {
	mu            sync.RWMutex
	persons       map[string]crawler.Person
	relationships map[crawler.EdgeKey]crawler.Relationship
}

// NewStore constructs an empty Store with its tables already created.
func NewStore() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.persons = make(map[string]crawler.Person)
	s.relationships = make(map[crawler.EdgeKey]crawler.Relationship)
}

// CreateTables is a no-op when the tables exist.
func (s *Store) CreateTables(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persons == nil {
		s.reset()
	}
	return nil
}

// DropTables discards every row.
func (s *Store) DropTables(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// UpsertPerson inserts a bare unprocessed person.
func (s *Store) UpsertPerson(_ context.Context, id string) (crawler.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(id), nil
}

func (s *Store) upsertLocked(id string) crawler.UpsertResult {
	if _, ok := s.persons[id]; ok {
		return crawler.AlreadyExists
	}
	s.persons[id] = crawler.Person{ID: id, State: crawler.StateUnprocessed}
	return crawler.Inserted
}

// UpdatePerson rewrites state and every non-nil attribute.
func (s *Store) UpdatePerson(_ context.Context, p crawler.Person) error {
	return s.update("update person", p, true)
}

// UpdateProfile rewrites every non-nil attribute and keeps state.
func (s *Store) UpdateProfile(_ context.Context, p crawler.Person) error {
	return s.update("update profile", p, false)
}

func (s *Store) update(op string, p crawler.Person, withState bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.persons[p.ID]
	if !ok {
		return fmt.Errorf("%s %s: %w", op, p.ID, crawler.ErrNotFound)
	}
	if withState {
		stored.State = p.State
	}
	if !p.DateRetrieved.IsZero() {
		stored.DateRetrieved = p.DateRetrieved
	}
	if p.FirstName != nil {
		stored.FirstName = p.FirstName
	}
	if p.LastName != nil {
		stored.LastName = p.LastName
	}
	if p.ProfileURL != nil {
		stored.ProfileURL = p.ProfileURL
	}
	if p.PictureURL != nil {
		stored.PictureURL = p.PictureURL
	}
	s.persons[p.ID] = stored
	return nil
}

// GetPerson fetches a person by id.
func (s *Store) GetPerson(_ context.Context, id string) (crawler.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[id]
	if !ok {
		return crawler.Person{}, fmt.Errorf("get person %s: %w", id, crawler.ErrNotFound)
	}
	return p, nil
}

// CountByState counts persons in state.
func (s *Store) CountByState(_ context.Context, state crawler.PersonState) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.persons {
		if p.State == state {
			n++
		}
	}
	return n, nil
}

// IteratePending returns a cursor over the persons in state at call time,
// ordered by id.
func (s *Store) IteratePending(_ context.Context, state crawler.PersonState) (crawler.PersonCursor, error) {
	return s.personCursor(func(p crawler.Person) bool { return p.State == state }), nil
}

// IteratePersons returns a cursor over every person ordered by id.
func (s *Store) IteratePersons(context.Context) (crawler.PersonCursor, error) {
	return s.personCursor(func(crawler.Person) bool { return true }), nil
}

func (s *Store) personCursor(keep func(crawler.Person) bool) *personCursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]crawler.Person, 0, len(s.persons))
	for _, p := range s.persons {
		if keep(p) {
			rows = append(rows, p)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return &personCursor{rows: rows, pos: -1}
}

// IterateRelationships returns a cursor over every edge ordered by key.
func (s *Store) IterateRelationships(context.Context) (crawler.RelationshipCursor, error) {
	s.mu.RLock()
	set := crawler.NewRelationshipSet()
	for _, r := range s.relationships {
		set.Add(r)
	}
	s.mu.RUnlock()
	return &relationshipCursor{rows: set.Slice(), pos: -1}, nil
}

// InsertRelationship creates missing endpoints, then the edge. A duplicate
// edge is ignored.
func (s *Store) InsertRelationship(_ context.Context, r crawler.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(r.SourceID)
	s.upsertLocked(r.TargetID)
	if _, ok := s.relationships[r.Key()]; ok {
		return nil
	}
	s.relationships[r.Key()] = r
	return nil
}

// ResetState moves every person in from to to.
func (s *Store) ResetState(_ context.Context, from, to crawler.PersonState) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.persons {
		if p.State == from {
			p.State = to
			s.persons[id] = p
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Relationships returns a snapshot of every stored edge.
func (s *Store) Relationships() []crawler.Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := crawler.NewRelationshipSet()
	for _, r := range s.relationships {
		set.Add(r)
	}
	return set.Slice()
}

type personCursor struct {
	rows []crawler.Person
	pos  int
}

func (c *personCursor) Next() bool {
	if c.pos+1 >= len(c.rows) {
		c.pos = len(c.rows)
		return false
	}
	c.pos++
	return true
}

func (c *personCursor) Person() (crawler.Person, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return crawler.Person{}, fmt.Errorf("cursor not positioned on a row")
	}
	return c.rows[c.pos], nil
}

func (c *personCursor) Err() error { return nil }

func (c *personCursor) Close() error {
	c.rows = nil
	return nil
}

type relationshipCursor struct {
	rows []crawler.Relationship
	pos  int
}

func (c *relationshipCursor) Next() bool {
	if c.pos+1 >= len(c.rows) {
		c.pos = len(c.rows)
		return false
	}
	c.pos++
	return true
}

func (c *relationshipCursor) Relationship() (crawler.Relationship, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return crawler.Relationship{}, fmt.Errorf("cursor not positioned on a row")
	}
	return c.rows[c.pos], nil
}

func (c *relationshipCursor) Err() error { return nil }

func (c *relationshipCursor) Close() error {
	c.rows = nil
	return nil
}
