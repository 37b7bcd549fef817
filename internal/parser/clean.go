package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// prefixLen is the length of the anti-hijacking guard the remote puts in
// front of every payload.
const prefixLen = 5

// Clean strips the guard prefix and rewrites elided array elements into
// explicit nulls so the result is valid JSON. A comma directly after '[',
// '{' or another comma gets a null in front of it, and a closing bracket
// directly after a comma gets a null in front of it. String literals are
// copied untouched.
func Clean(raw []byte) ([]byte, error) {
	if len(raw) < prefixLen {
		return nil, fmt.Errorf("%w: payload shorter than guard prefix (%d bytes)", crawler.ErrUnparseable, len(raw))
	}
	body := raw[prefixLen:]

	var out bytes.Buffer
	out.Grow(len(body) + len(body)/4)

	var (
		inString bool
		escaped  bool
		prev     byte
	)
	for _, c := range body {
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case ' ', '\t', '\n', '\r':
			out.WriteByte(c)
			continue
		case '"':
			inString = true
		case ',':
			if prev == '[' || prev == '{' || prev == ',' {
				out.WriteString("null")
			}
		case ']', '}':
			if prev == ',' {
				out.WriteString("null")
			}
		}
		out.WriteByte(c)
		prev = c
	}
	if inString {
		return nil, fmt.Errorf("%w: unterminated string literal", crawler.ErrUnparseable)
	}
	return out.Bytes(), nil
}

// Decode cleans raw and decodes it into a tree of []any, string,
// json.Number, bool, map[string]any and nil values.
func Decode(raw []byte) (any, error) {
	cleaned, err := Clean(raw)
	if err != nil {
		return nil, err
	}
	return decodeJSON(cleaned)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", crawler.ErrUnparseable, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after payload", crawler.ErrUnparseable)
	}
	return v, nil
}
