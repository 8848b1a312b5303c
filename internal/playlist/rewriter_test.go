package playlist

import (
	"net/url"
	"strings"
	"testing"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestIsPlaylist(t *testing.T) {
	cases := []struct {
		contentType, key string
		want             bool
	}{
		{"application/vnd.apple.mpegurl", "x", true},
		{"application/x-mpegURL; charset=utf-8", "x", true},
		{"", "video/master.m3u8", true},
		{"video/mp2t", "video/segment0.ts", false},
	}
	for _, tc := range cases {
		if got := IsPlaylist(tc.contentType, tc.key); got != tc.want {
			t.Errorf("IsPlaylist(%q, %q) = %v, want %v", tc.contentType, tc.key, got, tc.want)
		}
	}
}

// playlistURL mirrors handlers.requestURL's construction: the scheme, host,
// and path of the incoming request that fetched this playlist — already
// carrying whatever mount prefix reached this edge (e.g. "/v/...").
func edgePlaylistURL(t *testing.T) *url.URL {
	return mustURL(t, "https://edge.example.com/v/vod/show/master.m3u8")
}

func TestRewriteRelativeSegmentReferences(t *testing.T) {
	rw := NewRewriter()
	playlistURL := edgePlaylistURL(t)

	body := []byte("#EXTM3U\n#EXT-X-VERSION:3\nsegment0.ts\nsegment1.ts\n")
	out, err := rw.Rewrite(body, playlistURL)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	want := []string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"/v/vod/show/segment0.ts",
		"/v/vod/show/segment1.ts",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRewriteURIAttribute(t *testing.T) {
	rw := NewRewriter()
	playlistURL := edgePlaylistURL(t)

	body := []byte(`#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x1234` + "\n")
	out, err := rw.Rewrite(body, playlistURL)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	want := `#EXT-X-KEY:METHOD=AES-128,URI="/v/vod/show/key.bin",IV=0x1234`
	got := strings.TrimRight(string(out), "\n")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRewriteDoesNotDoublePrefixWhenReferenceAlreadyCarriesMountPath(t *testing.T) {
	// A regression check for the doubled-"/v" bug: resolving a bare segment
	// reference against a playlist URL whose path already carries the "/v"
	// mount prefix must not prepend that prefix a second time.
	rw := NewRewriter()
	playlistURL := edgePlaylistURL(t)

	out, err := rw.Rewrite([]byte("segment0.ts\n"), playlistURL)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	got := strings.TrimRight(string(out), "\n")
	if got != "/v/vod/show/segment0.ts" {
		t.Errorf("got %q, want /v/vod/show/segment0.ts (no doubled /v/v prefix)", got)
	}
}

func TestRewriteCrossHostReferenceWrapped(t *testing.T) {
	rw := NewRewriter()
	playlistURL := edgePlaylistURL(t)

	body := []byte("https://cdn.other.example.com/ads/preroll.ts\n")
	out, err := rw.Rewrite(body, playlistURL)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	got := strings.TrimRight(string(out), "\n")
	if !strings.HasPrefix(got, "/_external?u=") {
		t.Errorf("expected cross-host reference wrapped through /_external, got %q", got)
	}
}

func TestRewritePassesUnknownTagsThrough(t *testing.T) {
	rw := NewRewriter()
	playlistURL := edgePlaylistURL(t)

	body := []byte("#EXT-X-DISCONTINUITY\n#EXT-X-PLAYLIST-TYPE:VOD\n")
	out, err := rw.Rewrite(body, playlistURL)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if string(out) != string(body) {
		t.Errorf("expected unknown tags to pass through unchanged, got %q", out)
	}
}
