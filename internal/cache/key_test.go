package cache

import "testing"

func TestKey(t *testing.T) {
	cases := []struct {
		name        string
		bucket, key string
		rangeHeader string
		want        string
	}{
		{"no range", "vod", "movies/a.mp4", "", "vod/movies/a.mp4"},
		{"with range", "vod", "movies/a.mp4", "bytes=0-1023", "vod/movies/a.mp4#bytes=0-1023"},
		{"empty key", "vod", "", "", "vod/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Key(tc.bucket, tc.key, tc.rangeHeader)
			if got != tc.want {
				t.Errorf("Key(%q, %q, %q) = %q, want %q", tc.bucket, tc.key, tc.rangeHeader, got, tc.want)
			}
		})
	}
}

func TestKeyRangeNeverCollidesWithWholeObject(t *testing.T) {
	whole := Key("vod", "a.mp4", "")
	ranged := Key("vod", "a.mp4", "bytes=0-1")
	if whole == ranged {
		t.Fatalf("ranged key must not collide with whole-object key, both were %q", whole)
	}
}
