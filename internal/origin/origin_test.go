package origin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edgevod/proxy/internal/config"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &Error{Kind: ErrUnknown, Cause: cause}

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see through Unwrap to the cause")
	}
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}

// slowOriginClient builds a MinioClient pointed at a server that never
// responds within the configured RequestTimeout, for asserting that a
// hung origin connection fails fast instead of blocking indefinitely.
func slowOriginClient(t *testing.T, delay, timeout time.Duration) (*MinioClient, func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	client, err := NewMinioClient(config.OriginConfig{
		Endpoint:        strings.TrimPrefix(server.URL, "http://"),
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		DefaultBucket:   "vod",
		RequestTimeout:  timeout,
	})
	if err != nil {
		server.Close()
		t.Fatalf("NewMinioClient: %v", err)
	}
	return client, server.Close
}

func TestGetObjectRespectsRequestTimeout(t *testing.T) {
	client, closeServer := slowOriginClient(t, 500*time.Millisecond, 50*time.Millisecond)
	defer closeServer()

	start := time.Now()
	_, err := client.GetObject(context.Background(), "vod", "show/master.m3u8", "")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected an error from a request exceeding RequestTimeout")
	}
	if elapsed > 400*time.Millisecond {
		t.Errorf("GetObject took %v, want it bounded by the 50ms request timeout rather than the 500ms server delay", elapsed)
	}
}

func TestHeadObjectRespectsRequestTimeout(t *testing.T) {
	client, closeServer := slowOriginClient(t, 500*time.Millisecond, 50*time.Millisecond)
	defer closeServer()

	start := time.Now()
	_, err := client.HeadObject(context.Background(), "vod", "show/master.m3u8")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected an error from a request exceeding RequestTimeout")
	}
	if elapsed > 400*time.Millisecond {
		t.Errorf("HeadObject took %v, want it bounded by the 50ms request timeout rather than the 500ms server delay", elapsed)
	}
}
