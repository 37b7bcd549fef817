package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

func mustTree(t *testing.T, body string) any {
	t.Helper()
	v, err := Decode([]byte(guard + body))
	require.NoError(t, err)
	return v
}

func TestDescend(t *testing.T) {
	t.Parallel()

	tree := mustTree(t, `[["a",[1,"b",null]],7]`)

	testCases := []struct {
		name    string
		path    Path
		want    any
		present bool
	}{
		{"string leaf", Path{0, 0}, "a", true},
		{"number leaf", Path{0, 1, 0}, json.Number("1"), true},
		{"array node", Path{0, 1}, []any{json.Number("1"), "b", nil}, true},
		{"explicit null leaf", Path{0, 1, 2}, nil, false},
		{"index past end at leaf", Path{0, 1, 3}, nil, false},
		{"index past end mid path", Path{5, 0}, nil, false},
		{"scalar before path ends", Path{1, 0, 0}, nil, false},
		{"negative index", Path{-1}, nil, false},
		{"empty path returns root", Path{}, tree, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok, err := Descend(tree, tc.path)
			require.NoError(t, err)
			assert.Equal(t, tc.present, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDescendRejectsUnknownNodeTypes(t *testing.T) {
	t.Parallel()

	tree := mustTree(t, `[[{"k":1}],true]`)

	_, _, err := Descend(tree, Path{0, 0, 1})
	require.ErrorIs(t, err, crawler.ErrUnparseable, "object on an intermediate position")

	_, _, err = Descend(tree, Path{1})
	require.ErrorIs(t, err, crawler.ErrUnparseable, "boolean at a leaf")

	_, err = DescendString(tree, Path{0})
	require.ErrorIs(t, err, crawler.ErrUnparseable, "array where a string is expected")
}

func TestDescendString(t *testing.T) {
	t.Parallel()

	tree := mustTree(t, `["x",12345678901234567890,,]`)

	s, err := DescendString(tree, Path{0})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "x", *s)

	s, err = DescendString(tree, Path{1})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "12345678901234567890", *s, "numeric ids keep every digit")

	s, err = DescendString(tree, Path{2})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestPathString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "[0,1,2]", Path{0, 1, 2}.String())
}
