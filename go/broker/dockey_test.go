package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDocKeyDerivation(t *testing.T) {
	var cases = []struct {
		raw, key string
	}{
		{"doc/Alpha.odt", "doc/Alpha.odt"},
		{"/doc/Alpha.odt", "doc/Alpha.odt"},
		{"doc/Beta.odt?access_token=abc", "doc/Beta.odt"},
		{"https://store.example.com/files/Beta.odt?v=2#frag", "files/Beta.odt"},
		{"doc/Sales%20Q3.ods", "doc/Sales Q3.ods"},
	}
	for _, c := range cases {
		var uri, err = SanitizeURI(c.raw)
		require.NoError(t, err, c.raw)
		require.Equal(t, c.key, DocKey(uri), c.raw)
	}
}

func TestSanitizeStripsQueryAndFragment(t *testing.T) {
	var uri, err = SanitizeURI("doc/A.odt?x=1#y")
	require.NoError(t, err)
	require.Empty(t, uri.RawQuery)
	require.Empty(t, uri.Fragment)
}

func TestKeyCacheResolve(t *testing.T) {
	var kc = NewKeyCache()

	key1, uri1, err := kc.Resolve("/doc/Alpha.odt?token=1")
	require.NoError(t, err)
	require.Equal(t, "doc/Alpha.odt", key1)
	require.NotNil(t, uri1)

	// Hit: same resolution, cached value.
	key2, uri2, err := kc.Resolve("/doc/Alpha.odt?token=1")
	require.NoError(t, err)
	require.Equal(t, key1, key2)
	require.Same(t, uri1, uri2)
}

func TestIDGeneratorMonotone(t *testing.T) {
	var g IDGenerator
	require.Equal(t, "1", g.Next())
	require.Equal(t, "2", g.Next())
	require.Equal(t, "3", g.Next())
}
