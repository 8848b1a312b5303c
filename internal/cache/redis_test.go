package cache

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/edgevod/proxy/internal/config"
)

func TestDecodeItemRoundTrips(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	fields := map[string]string{
		"data":         "aGVsbG8=", // "hello"
		"size":         "5",
		"contentType":  "video/mp4",
		"etag":         `"abc123"`,
		"lastModified": now.Format(time.RFC3339),
		"createdAt":    now.Format(time.RFC3339),
		"expiresAt":    now.Add(time.Hour).Format(time.RFC3339),
		"hitCount":     "7",
	}

	item, ok := decodeItem(fields)
	if !ok {
		t.Fatal("decodeItem returned ok=false for well-formed fields")
	}
	if string(item.Data) != "hello" {
		t.Errorf("Data = %q, want hello", item.Data)
	}
	if item.Size != 5 || item.ContentType != "video/mp4" || item.ETag != `"abc123"` || item.HitCount != 7 {
		t.Errorf("decoded item mismatch: %+v", item)
	}
	if !item.CreatedAt.Equal(now) || !item.LastModified.Equal(now) {
		t.Errorf("timestamps not decoded correctly: %+v", item)
	}
}

func TestDecodeItemRejectsBadBase64(t *testing.T) {
	_, ok := decodeItem(map[string]string{"data": "not-valid-base64!!"})
	if ok {
		t.Fatal("expected decodeItem to reject malformed base64 data")
	}
}

func TestTrimPrefix(t *testing.T) {
	cases := []struct{ s, prefix, want string }{
		{"edgevod:cache:key1", "edgevod:cache:", "key1"},
		{"key1", "edgevod:cache:", "key1"},
		{"", "prefix:", ""},
		{"prefix:", "prefix:", ""},
	}
	for _, tc := range cases {
		if got := trimPrefix(tc.s, tc.prefix); got != tc.want {
			t.Errorf("trimPrefix(%q, %q) = %q, want %q", tc.s, tc.prefix, got, tc.want)
		}
	}
}

func TestParseRedisInfoInt(t *testing.T) {
	info := "# Memory\r\nused_memory:1048576\r\nused_memory_human:1.00M\r\nmaxmemory:0\r\n"
	if got := parseRedisInfoInt(info, "used_memory:"); got != 1048576 {
		t.Errorf("used_memory = %d, want 1048576", got)
	}
	if got := parseRedisInfoInt(info, "maxmemory:"); got != 0 {
		t.Errorf("maxmemory = %d, want 0", got)
	}
	if got := parseRedisInfoInt(info, "missing_field:"); got != 0 {
		t.Errorf("missing field should return 0, got %d", got)
	}
}

func TestOverMemoryThreshold(t *testing.T) {
	cases := []struct {
		name            string
		memoryThreshold float64
		lastUsedPct     float64
		want            bool
	}{
		{"disabled threshold never trips", 0, 99, false},
		{"under threshold", 0.85, 50, false},
		{"at threshold", 0.85, 85, true},
		{"over threshold", 0.85, 92, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewRedisBackend(nil, config.RedisConfig{}, time.Minute, tc.memoryThreshold)
			b.lastUsedPct.Store(math.Float64bits(tc.lastUsedPct))
			if got := b.overMemoryThreshold(); got != tc.want {
				t.Errorf("overMemoryThreshold() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSetRejectsAdmissionOverMemoryThreshold(t *testing.T) {
	b := NewRedisBackend(nil, config.RedisConfig{}, time.Minute, 0.85)
	b.lastUsedPct.Store(math.Float64bits(90)) // simulates a GetCapacityInfo snapshot over the 85% threshold

	if ok := b.Set(context.Background(), "key1", []byte("data"), SetOptions{}); ok {
		t.Fatal("expected Set to refuse admission once lastUsedPct exceeds memoryThreshold")
	}
	if got := b.rejected.Load(); got != 1 {
		t.Errorf("rejected counter = %d, want 1", got)
	}
}
