// Package sqlutil holds the SQL shared by the relational entity stores.
package sqlutil

import (
	"time"

	"github.com/huandu/go-sqlbuilder"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// Table names.
const (
	PersonTable       = "person"
	RelationshipTable = "relationship"
)

// PersonColumns is the column order ScanPerson expects.
const PersonColumns = "id, date_retrieved, first_name, last_name, profile_url, picture_url, state"

// RelationshipColumns is the column order ScanRelationship expects.
const RelationshipColumns = "source_id, target_id, date_retrieved, strength"

// CreateStatements creates the schema. Every statement is idempotent.
var CreateStatements = []string{
	`CREATE TABLE IF NOT EXISTS person (
	id VARCHAR(256) PRIMARY KEY,
	date_retrieved TIMESTAMP,
	first_name VARCHAR(256),
	last_name VARCHAR(256),
	profile_url TEXT,
	picture_url TEXT,
	state SMALLINT NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS person_state_idx ON person (state, id)`,
	`CREATE TABLE IF NOT EXISTS relationship (
	source_id VARCHAR(256) NOT NULL REFERENCES person (id),
	target_id VARCHAR(256) NOT NULL REFERENCES person (id),
	date_retrieved TIMESTAMP,
	strength REAL,
	PRIMARY KEY (source_id, target_id)
)`,
}

// DropStatements removes the schema, children first.
var DropStatements = []string{
	`DROP TABLE IF EXISTS relationship`,
	`DROP TABLE IF EXISTS person`,
}

// UpdatePerson builds an UPDATE for p that always rewrites state and sets
// only the attributes that are non-nil (date_retrieved when non-zero).
func UpdatePerson(flavor sqlbuilder.Flavor, p crawler.Person) (string, []any) {
	return buildPersonUpdate(flavor, p, true)
}

// UpdateProfile is UpdatePerson without the state column.
func UpdateProfile(flavor sqlbuilder.Flavor, p crawler.Person) (string, []any) {
	return buildPersonUpdate(flavor, p, false)
}

func buildPersonUpdate(flavor sqlbuilder.Flavor, p crawler.Person, withState bool) (string, []any) {
	ub := flavor.NewUpdateBuilder()
	ub.Update(PersonTable)

	var assignments []string
	if withState {
		assignments = append(assignments, ub.Assign("state", int(p.State)))
	}
	if !p.DateRetrieved.IsZero() {
		assignments = append(assignments, ub.Assign("date_retrieved", p.DateRetrieved.UTC()))
	}
	for _, col := range []struct {
		name  string
		value *string
	}{
		{"first_name", p.FirstName},
		{"last_name", p.LastName},
		{"profile_url", p.ProfileURL},
		{"picture_url", p.PictureURL},
	} {
		if col.value != nil {
			assignments = append(assignments, ub.Assign(col.name, *col.value))
		}
	}
	if len(assignments) == 0 {
		// Still touch the row so a missing id reports zero rows affected.
		assignments = append(assignments, "id = id")
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", p.ID))
	return ub.Build()
}

// Scanner is satisfied by pgx.Row(s) and *sql.Row(s).
type Scanner interface {
	Scan(dest ...any) error
}

// ScanPerson reads one row laid out as PersonColumns.
func ScanPerson(row Scanner) (crawler.Person, error) {
	var (
		p         crawler.Person
		retrieved *time.Time
		state     int
	)
	if err := row.Scan(
		&p.ID,
		&retrieved,
		&p.FirstName,
		&p.LastName,
		&p.ProfileURL,
		&p.PictureURL,
		&state,
	); err != nil {
		return crawler.Person{}, err //nolint:wrapcheck // callers wrap with context
	}
	if retrieved != nil {
		p.DateRetrieved = retrieved.UTC()
	}
	p.State = crawler.PersonState(state)
	return p, nil
}

// ScanRelationship reads one row laid out as RelationshipColumns.
func ScanRelationship(row Scanner) (crawler.Relationship, error) {
	var (
		r         crawler.Relationship
		retrieved *time.Time
	)
	if err := row.Scan(&r.SourceID, &r.TargetID, &retrieved, &r.Strength); err != nil {
		return crawler.Relationship{}, err //nolint:wrapcheck // callers wrap with context
	}
	if retrieved != nil {
		r.DateRetrieved = retrieved.UTC()
	}
	return r, nil
}

// NullableTime maps the zero time to a SQL NULL.
func NullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
