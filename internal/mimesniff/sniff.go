// Package mimesniff infers and overrides content types the origin left
// vague, classifying response bytes by MIME to decide what Content-Type
// to serve them as.
package mimesniff

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var extraExtensions = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mp4":  "video/mp4",
	".vtt":  "text/vtt",
	".m4s":  "video/iso.segment",
}

// InferFromKey returns a Content-Type guessed from the object key's
// extension, used when the origin omits Content-Type or reports the
// generic application/octet-stream.
func InferFromKey(key string) string {
	ext := strings.ToLower(filepath.Ext(key))
	if ct, ok := extraExtensions[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// SniffOverride inspects the leading bytes of a body for well-known
// binary signatures and returns an upgraded Content-Type when confident,
// otherwise the empty string. This never decodes the payload — only
// magic-number comparisons, which need no ecosystem decompression
// library to perform.
func SniffOverride(sample []byte) string {
	if isMPEGTS(sample) {
		return "video/mp2t"
	}
	if len(sample) >= 2 && sample[0] == 0x1F && sample[1] == 0x8B {
		return "application/gzip"
	}
	if len(sample) >= 4 && sample[0] == 0x28 && sample[1] == 0xB5 && sample[2] == 0x2F && sample[3] == 0xFD {
		return "application/zstd"
	}
	// Brotli has no magic number by design, so it is deliberately not
	// sniffed here; a wrong guess would be worse than no override.
	if kind := mimetype.Detect(sample); kind != nil && kind.String() != "application/octet-stream" {
		return kind.String()
	}
	return ""
}

// isMPEGTS checks for the 0x47 sync byte recurring every 188 bytes, the
// classic signature of an MPEG transport stream.
func isMPEGTS(sample []byte) bool {
	const packetSize = 188
	if len(sample) < packetSize*3 {
		return false
	}
	for offset := 0; offset < len(sample); offset += packetSize {
		if sample[offset] != 0x47 {
			return false
		}
		if offset >= packetSize*2 {
			break
		}
	}
	return true
}
