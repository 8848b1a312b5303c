// Package fetch implements the streaming object-fetch pipeline: cache
// lookup, range-aware origin streaming with cache-fill, and dispatch to
// the playlist rewriter for M3U8 responses.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/edgevod/proxy/internal/apierror"
	"github.com/edgevod/proxy/internal/cache"
	"github.com/edgevod/proxy/internal/mimesniff"
	"github.com/edgevod/proxy/internal/origin"
	"github.com/edgevod/proxy/internal/playlist"
)

// sniffSampleSize must cover at least three 188-byte MPEG-TS packets so
// isMPEGTS has enough leading bytes to confirm the sync-byte cadence.
const sniffSampleSize = 3 * 188

type Pipeline struct {
	logger   *slog.Logger
	cacheMgr *cache.Manager
	origin   origin.Client
	rewriter *playlist.Rewriter

	streamMaxCacheable   int64
	playlistMaxCacheable int64
}

func NewPipeline(logger *slog.Logger, cacheMgr *cache.Manager, originClient origin.Client, rewriter *playlist.Rewriter, streamMaxCacheable, playlistMaxCacheable int64) *Pipeline {
	return &Pipeline{
		logger:               logger,
		cacheMgr:             cacheMgr,
		origin:               originClient,
		rewriter:             rewriter,
		streamMaxCacheable:   streamMaxCacheable,
		playlistMaxCacheable: playlistMaxCacheable,
	}
}

// Get serves a GET for (bucket, key), consulting the cache, then falling
// through to the origin with cache-fill on miss. playlistURL anchors
// relative URI resolution when the response turns out to be an M3U8
// playlist.
func (p *Pipeline) Get(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key string, playlistURL *url.URL) error {
	rangeHeader := r.Header.Get("Range")
	cacheKey := cache.Key(bucket, key, rangeHeader)

	if rangeHeader == "" {
		if item, hit := p.cacheMgr.Get(ctx, cacheKey); hit {
			writeCacheHeaders(w, item, "HIT")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(item.Data)
			return nil
		}
	}

	result, err := p.origin.GetObject(ctx, bucket, key, rangeHeader)
	if err != nil {
		return classifyOriginError(err)
	}
	if result == nil || result.Body == nil {
		return apierror.New(apierror.NotFound, "origin returned no body")
	}
	defer result.Body.Close()

	body, contentType, err := sniffContentType(result.Body, result.ContentType, key)
	if err != nil {
		return apierror.Wrap(apierror.OriginFailure, "failed reading origin response", err)
	}

	if playlist.IsPlaylist(contentType, key) {
		return p.serveM3U8(ctx, w, body, result, contentType, cacheKey, rangeHeader, playlistURL)
	}
	return p.serveStream(ctx, w, r, body, result, contentType, cacheKey, rangeHeader)
}

// Head mirrors Get for metadata-only requests: it never reads a body.
func (p *Pipeline) Head(ctx context.Context, w http.ResponseWriter, bucket, key string) error {
	cacheKey := cache.Key(bucket, key, "")
	if item, hit := p.cacheMgr.Get(ctx, cacheKey); hit {
		writeCacheHeaders(w, item, "HIT")
		w.WriteHeader(http.StatusOK)
		return nil
	}

	result, err := p.origin.HeadObject(ctx, bucket, key)
	if err != nil {
		return classifyOriginError(err)
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(result.ContentLength, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Cache", "MISS")
	if result.ETag != "" {
		w.Header().Set("ETag", result.ETag)
	}
	if !result.LastModified.IsZero() {
		w.Header().Set("Last-Modified", result.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (p *Pipeline) serveM3U8(ctx context.Context, w http.ResponseWriter, body io.Reader, result *origin.Result, contentType, cacheKey, rangeHeader string, playlistURL *url.URL) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return apierror.Wrap(apierror.OriginFailure, "failed reading playlist body", err)
	}

	rewritten, err := p.rewriter.Rewrite(raw, playlistURL)
	if err != nil {
		return apierror.Wrap(apierror.RewriteFailure, "playlist rewrite failed", err)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Cache", "MISS")
	if result.ETag != "" {
		w.Header().Set("ETag", result.ETag)
	}
	if !result.LastModified.IsZero() {
		w.Header().Set("Last-Modified", result.LastModified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rewritten); err != nil {
		return nil // client disconnected mid-write; no second status code
	}

	if rangeHeader == "" && int64(len(rewritten)) < p.playlistMaxCacheable {
		p.cacheMgr.Set(ctx, cacheKey, rewritten, cache.SetOptions{
			ContentType:  contentType,
			ETag:         result.ETag,
			LastModified: result.LastModified,
		})
	}
	return nil
}

func (p *Pipeline) serveStream(ctx context.Context, w http.ResponseWriter, r *http.Request, body io.Reader, result *origin.Result, contentType, cacheKey, rangeHeader string) error {
	status := http.StatusOK
	if result.ContentRange != "" {
		status = http.StatusPartialContent
	}

	w.Header().Set("Content-Type", contentType)
	if result.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(result.ContentLength, 10))
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Cache", "MISS")
	if result.ETag != "" {
		w.Header().Set("ETag", result.ETag)
	}
	if !result.LastModified.IsZero() {
		w.Header().Set("Last-Modified", result.LastModified.UTC().Format(http.TimeFormat))
	}
	if result.ContentRange != "" {
		w.Header().Set("Content-Range", result.ContentRange)
	}
	w.WriteHeader(status)

	cacheable := rangeHeader == "" && result.ContentLength >= 0 && result.ContentLength <= p.streamMaxCacheable
	if !cacheable {
		_ = copyWithCancellation(ctx, w, body)
		return nil
	}

	tee := newBoundedTee(p.streamMaxCacheable)
	dest := io.MultiWriter(w, tee)
	if err := copyWithCancellation(ctx, dest, body); err != nil {
		// disconnected or canceled mid-stream: never cache-fill from a
		// partial buffer.
		return nil
	}
	if tee.discarded {
		return nil
	}
	p.cacheMgr.Set(ctx, cacheKey, tee.buf.Bytes(), cache.SetOptions{
		ContentType:  contentType,
		ETag:         result.ETag,
		LastModified: result.LastModified,
	})
	return nil
}

// boundedTee buffers bytes as they stream through, and discards the
// buffer permanently the moment it would exceed the cache admission
// ceiling — covering the case where the origin advertised a length that
// turned out to be wrong.
type boundedTee struct {
	buf       bytes.Buffer
	limit     int64
	discarded bool
}

func newBoundedTee(limit int64) *boundedTee {
	return &boundedTee{limit: limit}
}

func (t *boundedTee) Write(p []byte) (int, error) {
	if t.discarded {
		return len(p), nil
	}
	if int64(t.buf.Len()+len(p)) > t.limit {
		t.discarded = true
		t.buf.Reset()
		return len(p), nil
	}
	return t.buf.Write(p)
}

// copyWithCancellation copies src to dst, checking ctx between chunks so
// a client disconnect stops pulling bytes from the origin promptly rather
// than draining the whole body.
func copyWithCancellation(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}

// sniffContentType returns a reader positioned at the start of the body
// (any bytes peeked for sniffing are replayed) and the content type to
// serve: the origin's own type if usable, else an override inferred from
// the key or a binary-signature sniff of the leading bytes.
func sniffContentType(body io.Reader, originType, key string) (io.Reader, string, error) {
	if originType != "" && originType != "application/octet-stream" {
		return body, originType, nil
	}

	sample := make([]byte, sniffSampleSize)
	n, err := io.ReadFull(body, sample)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, "", err
	}
	sample = sample[:n]
	replay := io.MultiReader(bytes.NewReader(sample), body)

	if override := mimesniff.SniffOverride(sample); override != "" {
		return replay, override, nil
	}
	return replay, mimesniff.InferFromKey(key), nil
}

func writeCacheHeaders(w http.ResponseWriter, item *cache.Item, cacheStatus string) {
	w.Header().Set("Content-Type", item.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(item.Size, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Cache", cacheStatus)
	if item.ETag != "" {
		w.Header().Set("ETag", item.ETag)
	}
	if !item.LastModified.IsZero() {
		w.Header().Set("Last-Modified", item.LastModified.UTC().Format(http.TimeFormat))
	}
}

func classifyOriginError(err error) error {
	oerr, ok := err.(*origin.Error)
	if !ok {
		return apierror.Wrap(apierror.OriginFailure, "origin request failed", err)
	}
	switch oerr.Kind {
	case origin.ErrNoSuchKey, origin.ErrNoSuchBucket:
		return apierror.Wrap(apierror.NotFound, fmt.Sprintf("origin reported %s", oerr.Kind), err)
	case origin.ErrAccessDenied:
		return apierror.Wrap(apierror.Forbidden, "origin denied access", err)
	default:
		return apierror.Wrap(apierror.OriginFailure, "unclassified origin error", err)
	}
}
