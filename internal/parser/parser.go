// Package parser turns the remote's positional array payloads into persons
// and relationships.
package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/logging"
)

// Positions inside the profile payload.
var (
	personRootPath    = Path{0, 1}
	personIDPath      = Path{0, 1, 0}
	firstNamePath     = Path{0, 1, 2, 4, 1}
	lastNamePath      = Path{0, 1, 2, 4, 2}
	picturePath       = Path{0, 1, 2, 3}
	profileURLPath    = Path{0, 1, 2, 2}
	neighborListPath  = Path{0, 2}
	peerIDPath        = Path{0, 2}
	strengthPath      = Path{2, 3}
	followerHintIndex = 4
	followerHintWidth = 5
)

// Direction names which lookup produced a neighborhood payload.
type Direction int

// Lookup directions.
const (
	// Followers lists accounts that follow the queried id.
	Followers Direction = iota
	// Followees lists accounts the queried id follows.
	Followees
)

func (d Direction) String() string {
	if d == Followers {
		return "followers"
	}
	return "followees"
}

// Neighborhood is the parsed content of one followers/followees payload.
type Neighborhood struct {
	Relationships *crawler.RelationshipSet
	// Listed counts the entries the payload enumerated.
	Listed int
	// ReportedTotal is the remote's own count, when it sends one.
	ReportedTotal *int
	SelfLoops     int
	SkippedPeers  int
}

// Parser decodes remote payloads.
type Parser struct {
	logger *zap.Logger
}

// New creates a Parser.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Person extracts profile data. The boolean is false when the payload does
// not describe an account.
func (p *Parser) Person(raw []byte) (crawler.Person, bool, error) {
	root, err := Decode(raw)
	if err != nil {
		return crawler.Person{}, false, err
	}
	if _, ok, err := Descend(root, personRootPath); err != nil || !ok {
		return crawler.Person{}, false, err
	}
	id, err := DescendString(root, personIDPath)
	if err != nil || id == nil || *id == "" {
		return crawler.Person{}, false, err
	}

	person := crawler.Person{ID: *id}
	for _, field := range []struct {
		dst  **string
		path Path
	}{
		{&person.FirstName, firstNamePath},
		{&person.LastName, lastNamePath},
		{&person.PictureURL, picturePath},
		{&person.ProfileURL, profileURLPath},
	} {
		val, err := DescendString(root, field.path)
		if err != nil {
			return crawler.Person{}, false, fmt.Errorf("person %s: %w", *id, err)
		}
		*field.dst = val
	}
	if person.PictureURL != nil && strings.HasPrefix(*person.PictureURL, "//") {
		abs := "https:" + *person.PictureURL
		person.PictureURL = &abs
	}
	return person, true, nil
}

// Neighborhood extracts the edges listed in a followers or followees payload
// for id. Self-loops are dropped.
func (p *Parser) Neighborhood(raw []byte, id string, dir Direction) (Neighborhood, error) {
	root, err := Decode(raw)
	if err != nil {
		return Neighborhood{}, err
	}
	hood := Neighborhood{Relationships: crawler.NewRelationshipSet()}

	entries, ok, err := DescendArray(root, neighborListPath)
	if err != nil {
		return Neighborhood{}, err
	}
	if ok {
		hood.Listed = len(entries)
	}
	for i, entry := range entries {
		peer, err := DescendString(entry, peerIDPath)
		if err != nil {
			return Neighborhood{}, fmt.Errorf("%s of %s entry %d: %w", dir, id, i, err)
		}
		if peer == nil || *peer == "" {
			hood.SkippedPeers++
			p.logger.Warn("neighbor entry without peer id",
				logging.Depth(1),
				zap.String("person_id", id),
				zap.Stringer("direction", dir),
				zap.Int("entry", i),
			)
			continue
		}
		rel := crawler.Relationship{SourceID: id, TargetID: *peer}
		if dir == Followers {
			rel = crawler.Relationship{SourceID: *peer, TargetID: id}
		}
		if rel.IsSelfLoop() {
			hood.SelfLoops++
			p.logger.Warn("dropping self-loop",
				logging.Depth(1),
				zap.String("person_id", id),
				zap.Stringer("direction", dir),
			)
			continue
		}
		rel.Strength, err = p.strength(entry, id)
		if err != nil {
			return Neighborhood{}, fmt.Errorf("%s of %s entry %d: %w", dir, id, i, err)
		}
		hood.Relationships.Add(rel)
	}

	if dir == Followers {
		hood.ReportedTotal = reportedTotal(root)
	}
	return hood, nil
}

func (p *Parser) strength(entry any, id string) (*float64, error) {
	node, ok, err := Descend(entry, strengthPath)
	if err != nil || !ok {
		return nil, err
	}
	var text string
	switch v := node.(type) {
	case string:
		text = v
	case json.Number:
		text = v.String()
	default:
		return nil, unexpectedNode(node, strengthPath)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		p.logger.Warn("ignoring malformed strength",
			logging.Depth(1),
			zap.String("person_id", id),
			zap.String("strength", text),
		)
		return nil, nil
	}
	return &f, nil
}

func reportedTotal(root any) *int {
	top, ok := root.([]any)
	if !ok || len(top) != followerHintWidth {
		return nil
	}
	num, ok := top[followerHintIndex].(json.Number)
	if !ok {
		return nil
	}
	n, err := num.Int64()
	if err != nil {
		return nil
	}
	total := int(n)
	return &total
}
