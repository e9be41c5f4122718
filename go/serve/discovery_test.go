package serve

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const discoveryFixture = `<?xml version="1.0" encoding="UTF-8"?>
<wopi-discovery>
  <net-zone name="external-http">
    <app name="application/vnd.oasis.opendocument.text">
      <action default="true" ext="odt" name="edit" urlsrc=""/>
    </app>
    <app name="application/vnd.oasis.opendocument.spreadsheet">
      <action default="true" ext="ods" name="edit" urlsrc=""/>
    </app>
    <app name="application/vnd.oasis.opendocument.presentation">
      <action default="true" ext="odp" name="edit"/>
    </app>
  </net-zone>
</wopi-discovery>`

func TestRewriteDiscovery(t *testing.T) {
	var urlsrc = "https://collab.example.com:9980/loleaflet/dist/loleaflet.html?"
	var out, err = rewriteDiscovery([]byte(discoveryFixture), urlsrc)
	require.NoError(t, err)

	// Every action element carries the rewritten urlsrc, set or appended.
	require.Equal(t, 3, strings.Count(string(out), `urlsrc="`+urlsrc+`"`))

	// Other attributes survive untouched.
	require.Contains(t, string(out), `ext="odt"`)
	require.Contains(t, string(out), `ext="ods"`)
	require.Contains(t, string(out), `default="true"`)

	// Rewriting is idempotent.
	again, err := rewriteDiscovery(out, urlsrc)
	require.NoError(t, err)
	require.Equal(t, string(out), string(again))
}

func TestRewriteDiscoveryRejectsMalformedInput(t *testing.T) {
	var _, err = rewriteDiscovery([]byte("<wopi-discovery><unclosed>"), "https://x/")
	require.Error(t, err)
}

func TestDiscoveryEndpoint(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "discovery.xml")
	require.NoError(t, os.WriteFile(path, []byte(discoveryFixture), 0644))

	var ts = newTestServer(t, Config{DiscoveryPath: path, AdvertisedPort: 9980}, time.Second)

	var resp, err = http.Get("http://" + ts.PublicAddr() + "/hosting/discovery")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/xml", resp.Header.Get("Content-Type"))
	require.Equal(t, "LOOLWSD WOPI Agent", resp.Header.Get("User-Agent"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(string(body),
		`urlsrc="https://127.0.0.1:9980/loleaflet/dist/loleaflet.html?"`))
}

func TestDiscoveryMissingDocument(t *testing.T) {
	var ts = newTestServer(t, Config{DiscoveryPath: "/nonexistent/discovery.xml"}, time.Second)

	var resp, err = http.Get("http://" + ts.PublicAddr() + "/hosting/discovery")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
