// Package playlist rewrites HLS (M3U8) playlists so every URI reference
// resolves through this edge instead of the origin. Rather than the
// regex-like string replacement a naive implementation reaches for, this
// tokenizes the playlist line by line and classifies each line by the HLS
// grammar before resolving and re-emitting it — unknown tags pass through
// unchanged.
package playlist

import (
	"bufio"
	"bytes"
	"fmt"
	"net/url"
	"strings"
)

const (
	// HLS MIME types that mark a response as a playlist.
	MimeAppleMpegURL = "application/vnd.apple.mpegurl"
	MimeXMpegURL     = "application/x-mpegURL"
)

// IsPlaylist reports whether a response should be treated as an M3U8
// playlist, by Content-Type or by the object key's extension.
func IsPlaylist(contentType, key string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, MimeAppleMpegURL) || strings.Contains(ct, strings.ToLower(MimeXMpegURL)) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(key), ".m3u8")
}

// Rewriter re-anchors playlist URIs at this edge, encoding every resolved
// absolute reference either as a same-origin edge path (when the
// reference resolves back onto playlistURL's own host) or as a wrapped
// passthrough URL (when it resolves to a different host entirely).
type Rewriter struct{}

func NewRewriter() *Rewriter {
	return &Rewriter{}
}

// Rewrite decodes body as UTF-8, rewrites every URI reference, and
// returns the serialized playlist. It is idempotent: rewriting an
// already-rewritten playlist against the same playlistURL is a no-op
// because every same-host reference it would resolve already resolves to
// the same path.
func (rw *Rewriter) Rewrite(body []byte, playlistURL *url.URL) ([]byte, error) {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		rewritten, err := rw.rewriteLine(line, playlistURL)
		if err != nil {
			return nil, fmt.Errorf("rewrite line %q: %w", line, err)
		}
		out.WriteString(rewritten)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan playlist: %w", err)
	}
	return out.Bytes(), nil
}

func (rw *Rewriter) rewriteLine(line string, playlistURL *url.URL) (string, error) {
	trimmed := strings.TrimSpace(line)

	if trimmed == "" {
		return line, nil
	}

	if strings.HasPrefix(trimmed, "#") {
		if idx := strings.Index(line, `URI="`); idx != -1 {
			return rw.rewriteURIAttribute(line, idx, playlistURL)
		}
		return line, nil // comment or tag with no URI attribute — pass through unchanged
	}

	// Bare URI line: a segment or variant playlist reference.
	edgeURL, err := rw.resolveToEdge(trimmed, playlistURL)
	if err != nil {
		return "", err
	}
	return edgeURL, nil
}

// rewriteURIAttribute replaces the value of a URI="..." attribute found
// at idx within line, leaving the rest of the tag untouched.
func (rw *Rewriter) rewriteURIAttribute(line string, idx int, playlistURL *url.URL) (string, error) {
	valueStart := idx + len(`URI="`)
	closeIdx := strings.Index(line[valueStart:], `"`)
	if closeIdx == -1 {
		return "", fmt.Errorf("unterminated URI attribute")
	}
	original := line[valueStart : valueStart+closeIdx]

	edgeURL, err := rw.resolveToEdge(original, playlistURL)
	if err != nil {
		return "", err
	}

	return line[:valueStart] + edgeURL + line[valueStart+closeIdx:], nil
}

// resolveToEdge resolves ref against playlistURL using standard
// relative-URI resolution, then re-anchors the absolute result at this
// edge: a same-host reference becomes a path on this edge, a cross-host
// reference is wrapped through a passthrough route.
func (rw *Rewriter) resolveToEdge(ref string, playlistURL *url.URL) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse URI reference: %w", err)
	}
	resolved := playlistURL.ResolveReference(parsed)

	if resolved.Host == playlistURL.Host {
		// playlistURL.Path is the incoming request's own path, already
		// anchored under whatever mount prefix reached this edge (e.g.
		// "/v/..."), so the resolved path needs no further prefixing.
		if resolved.RawQuery != "" {
			return resolved.Path + "?" + resolved.RawQuery, nil
		}
		return resolved.Path, nil
	}

	// /_external is a top-level route, not nested under the object route's
	// mount prefix, so it never collides with that route's wildcard segment.
	return "/_external?u=" + url.QueryEscape(resolved.String()), nil
}
