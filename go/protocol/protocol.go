// Package protocol implements tokenization helpers for the line-oriented
// message protocol spoken between clients, the WSD parent, and document
// workers. A frame is a UTF-8 message whose first whitespace-delimited
// token names the command.
package protocol

import (
	"strings"
)

// Control tokens understood by the parent. Everything else is opaque and
// forwarded verbatim to the owning worker.
const (
	TokenDisconnect  = "disconnect"
	TokenCancelTiles = "canceltiles"
	TokenEOF         = "eof"
	TokenTile        = "tile"
	TokenTileCombine = "tilecombine"
	TokenSaveAs      = "saveas:"
	TokenError       = "error:"

	// CommandSave is enqueued by the parent to force a document save.
	CommandSave = "uno .uno:Save"
)

// FirstToken returns the first whitespace-delimited token of a frame,
// or "" for an empty frame.
func FirstToken(frame []byte) string {
	var s = string(frame)
	if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
		s = s[:i]
	}
	return s
}

// IsTileCommand reports whether a token names a tile-producing command,
// which a later canceltiles is allowed to collapse.
func IsTileCommand(token string) bool {
	return token == TokenTile || token == TokenTileCombine
}

// TokenValue returns the value of a "name=value" token within a frame.
func TokenValue(frame []byte, name string) (string, bool) {
	for _, tok := range strings.Fields(string(frame)) {
		if v, ok := strings.CutPrefix(tok, name+"="); ok {
			return v, true
		}
	}
	return "", false
}

// ParseSaveAs extracts the result URL of a worker "saveas:" response.
func ParseSaveAs(frame []byte) (string, bool) {
	if FirstToken(frame) != TokenSaveAs {
		return "", false
	}
	return TokenValue(frame, "url")
}

// IsLoadError reports whether a frame is a worker error response to the
// initial document load.
func IsLoadError(frame []byte) bool {
	if FirstToken(frame) != TokenError {
		return false
	}
	var cmd, ok = TokenValue(frame, "cmd")
	return ok && cmd == "load"
}

const abbreviateLimit = 120

// Abbreviate formats a frame for logging: first line only, truncated.
func Abbreviate(frame []byte) string {
	var s = string(frame)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > abbreviateLimit {
		s = s[:abbreviateLimit] + "..."
	}
	return s
}
