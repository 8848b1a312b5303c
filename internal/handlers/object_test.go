package handlers

import "testing"

func TestParsePath(t *testing.T) {
	cases := []struct {
		name       string
		path       string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"single segment uses default bucket", "/movie.mp4", "vod", "movie.mp4", false},
		{"first segment without extension is bucket", "/vod/show/master.m3u8", "vod", "show/master.m3u8", false},
		{"first segment with extension stays in default bucket", "/show.mp4/extra", "vod", "show.mp4/extra", false},
		{"empty path is an error", "/", "", "", true},
		{"leading and trailing slashes trimmed", "//vod/a.ts//", "vod", "a.ts", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bucket, key, err := ParsePath(tc.path, "vod")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for path %q", tc.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tc.wantBucket || key != tc.wantKey {
				t.Errorf("ParsePath(%q) = (%q, %q), want (%q, %q)", tc.path, bucket, key, tc.wantBucket, tc.wantKey)
			}
		})
	}
}
