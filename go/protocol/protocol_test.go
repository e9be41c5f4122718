package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstToken(t *testing.T) {
	require.Equal(t, "tile", FirstToken([]byte("tile part=0 width=256")))
	require.Equal(t, "disconnect", FirstToken([]byte("disconnect")))
	require.Equal(t, "uno", FirstToken([]byte("uno .uno:Save")))
	require.Equal(t, "canceltiles", FirstToken([]byte("canceltiles\n")))
	require.Equal(t, "", FirstToken(nil))
}

func TestIsTileCommand(t *testing.T) {
	require.True(t, IsTileCommand("tile"))
	require.True(t, IsTileCommand("tilecombine"))
	require.False(t, IsTileCommand("tiles"))
	require.False(t, IsTileCommand("canceltiles"))
}

func TestTokenValue(t *testing.T) {
	var frame = []byte("saveas url=file:///user/docs/out.pdf format=pdf options=")

	var url, ok = TokenValue(frame, "url")
	require.True(t, ok)
	require.Equal(t, "file:///user/docs/out.pdf", url)

	format, ok := TokenValue(frame, "format")
	require.True(t, ok)
	require.Equal(t, "pdf", format)

	_, ok = TokenValue(frame, "missing")
	require.False(t, ok)
}

func TestParseSaveAs(t *testing.T) {
	var url, ok = ParseSaveAs([]byte("saveas: url=file:///user/docs/hello.pdf"))
	require.True(t, ok)
	require.Equal(t, "file:///user/docs/hello.pdf", url)

	// The request form ("saveas", no colon) is not a response.
	_, ok = ParseSaveAs([]byte("saveas url=file:///user/docs/hello.pdf format=pdf"))
	require.False(t, ok)

	_, ok = ParseSaveAs([]byte("tile part=0"))
	require.False(t, ok)
}

func TestIsLoadError(t *testing.T) {
	require.True(t, IsLoadError([]byte("error: cmd=load kind=failed")))
	require.False(t, IsLoadError([]byte("error: cmd=saveas kind=failed")))
	require.False(t, IsLoadError([]byte("load url=foo")))
}

func TestAbbreviate(t *testing.T) {
	require.Equal(t, "tile part=0", Abbreviate([]byte("tile part=0\nbinary-payload")))

	var long = "tilecombine " + strings.Repeat("x", 200)
	var got = Abbreviate([]byte(long))
	require.Len(t, got, abbreviateLimit+3)
	require.True(t, strings.HasSuffix(got, "..."))
}
