package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// Path is a positional address inside a nested array payload.
type Path []int

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, idx := range p {
		parts[i] = strconv.Itoa(idx)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Descend follows path through nested arrays. The boolean is false when the
// addressed value is absent: an index runs past the end of its array, an
// explicit null sits anywhere on the path, or a scalar is reached before the
// path is consumed. Object and boolean nodes are not part of the wire format
// and yield crawler.ErrUnparseable.
func Descend(v any, path Path) (any, bool, error) {
	cur := v
	for i, idx := range path {
		switch node := cur.(type) {
		case []any:
			if idx < 0 || idx >= len(node) {
				return nil, false, nil
			}
			cur = node[idx]
		case nil, string, json.Number:
			return nil, false, nil
		default:
			return nil, false, unexpectedNode(node, path[:i])
		}
	}
	switch node := cur.(type) {
	case nil:
		return nil, false, nil
	case []any, string, json.Number:
		return node, true, nil
	default:
		return nil, false, unexpectedNode(node, path)
	}
}

// DescendString returns the string (or number rendered as a string) at path.
func DescendString(v any, path Path) (*string, error) {
	node, ok, err := Descend(v, path)
	if err != nil || !ok {
		return nil, err
	}
	switch val := node.(type) {
	case string:
		return &val, nil
	case json.Number:
		s := val.String()
		return &s, nil
	default:
		return nil, unexpectedNode(node, path)
	}
}

// DescendArray returns the array at path.
func DescendArray(v any, path Path) ([]any, bool, error) {
	node, ok, err := Descend(v, path)
	if err != nil || !ok {
		return nil, false, err
	}
	arr, isArr := node.([]any)
	if !isArr {
		return nil, false, unexpectedNode(node, path)
	}
	return arr, true, nil
}

func unexpectedNode(node any, at Path) error {
	return fmt.Errorf("%w: unexpected %T at %s", crawler.ErrUnparseable, node, at)
}
