package mimesniff

import (
	"bytes"
	"testing"
)

func TestInferFromKey(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"video/master.m3u8", "application/vnd.apple.mpegurl"},
		{"video/segment0.ts", "video/mp2t"},
		{"video/full.mp4", "video/mp4"},
		{"captions/en.vtt", "text/vtt"},
		{"video/init.m4s", "video/iso.segment"},
		{"unknownfile.xyzzy", "application/octet-stream"},
	}
	for _, tc := range cases {
		got := InferFromKey(tc.key)
		if got != tc.want {
			t.Errorf("InferFromKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestSniffOverrideMPEGTS(t *testing.T) {
	sample := make([]byte, 188*3)
	for i := 0; i < 3; i++ {
		sample[i*188] = 0x47
	}
	if got := SniffOverride(sample); got != "video/mp2t" {
		t.Errorf("SniffOverride(MPEG-TS pattern) = %q, want video/mp2t", got)
	}
}

func TestSniffOverrideGzip(t *testing.T) {
	sample := []byte{0x1F, 0x8B, 0x08, 0x00}
	if got := SniffOverride(sample); got != "application/gzip" {
		t.Errorf("SniffOverride(gzip magic) = %q, want application/gzip", got)
	}
}

func TestSniffOverrideZstd(t *testing.T) {
	sample := []byte{0x28, 0xB5, 0x2F, 0xFD, 0x00}
	if got := SniffOverride(sample); got != "application/zstd" {
		t.Errorf("SniffOverride(zstd magic) = %q, want application/zstd", got)
	}
}

func TestSniffOverrideNoMatchFallsThrough(t *testing.T) {
	sample := bytes.Repeat([]byte{0x00}, 32)
	got := SniffOverride(sample)
	if got == "video/mp2t" || got == "application/gzip" || got == "application/zstd" {
		t.Errorf("SniffOverride(all-zero sample) unexpectedly matched a binary signature: %q", got)
	}
}
