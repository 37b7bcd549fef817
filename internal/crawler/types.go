// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// PersonState tracks how far a person has progressed through the crawl.
// Values only ever increase for a given person.
type PersonState int

// Person states persisted in the store.
const (
	StateUnprocessed PersonState = iota
	StateProcessing
	StateProcessed
)

var stateNames = map[PersonState]string{
	StateUnprocessed: "unprocessed",
	StateProcessing:  "processing",
	StateProcessed:   "processed",
}

func (s PersonState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Valid reports whether s is one of the known states.
func (s PersonState) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// ParseState converts a state name back into a PersonState.
func ParseState(name string) (PersonState, error) {
	for state, n := range stateNames {
		if strings.EqualFold(n, name) {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown person state %q", name)
}

// UpsertResult reports whether UpsertPerson created a row.
type UpsertResult int

// UpsertPerson outcomes. AlreadyExists is not an error.
const (
	Inserted UpsertResult = iota
	AlreadyExists
)

func (r UpsertResult) String() string {
	if r == Inserted {
		return "inserted"
	}
	return "already_exists"
}

var (
	// ErrNotFound signals that the person does not exist, remotely or in the store.
	ErrNotFound = errors.New("person not found")
	// ErrUnparseable signals a payload whose shape is not recognized.
	ErrUnparseable = errors.New("unparseable payload")
	// ErrRetriesExhausted signals a remote call that kept failing transiently.
	ErrRetriesExhausted = errors.New("remote retries exhausted")
)

// Person is one account in the social graph.
type Person struct {
	ID            string
	DateRetrieved time.Time
	FirstName     *string
	LastName      *string
	ProfileURL    *string
	PictureURL    *string
	State         PersonState
}

// UpdateFrom copies every non-nil attribute of other that differs from the
// receiver's value. It returns true when anything changed.
func (p *Person) UpdateFrom(other Person) bool {
	modified := false
	for _, f := range []struct {
		dst **string
		src *string
	}{
		{&p.FirstName, other.FirstName},
		{&p.LastName, other.LastName},
		{&p.ProfileURL, other.ProfileURL},
		{&p.PictureURL, other.PictureURL},
	} {
		if f.src == nil {
			continue
		}
		if *f.dst != nil && **f.dst == *f.src {
			continue
		}
		v := *f.src
		*f.dst = &v
		modified = true
	}
	if modified && !other.DateRetrieved.IsZero() {
		p.DateRetrieved = other.DateRetrieved
	}
	return modified
}

// StringValue dereferences an optional attribute, returning "" when absent.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// EdgeKey identifies a directed edge.
type EdgeKey struct {
	SourceID string
	TargetID string
}

// Relationship is a directed edge meaning "source follows target".
type Relationship struct {
	SourceID      string
	TargetID      string
	DateRetrieved time.Time
	Strength      *float64
}

// Key returns the (source, target) pair that defines edge identity.
func (r Relationship) Key() EdgeKey {
	return EdgeKey{SourceID: r.SourceID, TargetID: r.TargetID}
}

// IsSelfLoop reports whether the edge points back at its own source.
func (r Relationship) IsSelfLoop() bool {
	return r.SourceID == r.TargetID
}

// RelationshipSet collapses relationships with the same (source, target) pair.
// The first relationship added for a key wins.
type RelationshipSet struct {
	edges map[EdgeKey]Relationship
}

// NewRelationshipSet builds a set seeded with rels.
func NewRelationshipSet(rels ...Relationship) *RelationshipSet {
	s := &RelationshipSet{edges: make(map[EdgeKey]Relationship, len(rels))}
	for _, r := range rels {
		s.Add(r)
	}
	return s
}

// Add inserts r unless an edge with the same key is present. It reports
// whether the set grew.
func (s *RelationshipSet) Add(r Relationship) bool {
	if s.edges == nil {
		s.edges = make(map[EdgeKey]Relationship)
	}
	if _, ok := s.edges[r.Key()]; ok {
		return false
	}
	s.edges[r.Key()] = r
	return true
}

// Union adds every edge of other into s.
func (s *RelationshipSet) Union(other *RelationshipSet) {
	if other == nil {
		return
	}
	for _, r := range other.edges {
		s.Add(r)
	}
}

// Len returns the number of distinct edges.
func (s *RelationshipSet) Len() int {
	return len(s.edges)
}

// Slice returns the edges ordered by source then target.
func (s *RelationshipSet) Slice() []Relationship {
	out := make([]Relationship, 0, len(s.edges))
	for _, r := range s.edges {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

// PeerIDs returns the sorted, distinct endpoints other than id.
func (s *RelationshipSet) PeerIDs(id string) []string {
	seen := make(map[string]struct{})
	for k := range s.edges {
		for _, end := range []string{k.SourceID, k.TargetID} {
			if end != id {
				seen[end] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for peer := range seen {
		out = append(out, peer)
	}
	sort.Strings(out)
	return out
}
