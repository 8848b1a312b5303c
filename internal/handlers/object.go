// Package handlers implements the Request Handler: path parsing into
// (bucket, key), dispatch to the fetch pipeline, and the control-plane
// endpoints (status, cache stats, clear, switch, health).
package handlers

import (
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgevod/proxy/internal/apierror"
	"github.com/edgevod/proxy/internal/fetch"
)

// ObjectHandler dispatches GET/HEAD requests for CDN object paths. It is
// constructed once at startup and injected into the router rather than
// built from package-level state.
type ObjectHandler struct {
	logger        *slog.Logger
	pipeline      *fetch.Pipeline
	defaultBucket string
}

func NewObjectHandler(logger *slog.Logger, pipeline *fetch.Pipeline, defaultBucket string) *ObjectHandler {
	return &ObjectHandler{logger: logger, pipeline: pipeline, defaultBucket: defaultBucket}
}

// ParsePath splits on "/"; a single segment names the key against the
// default bucket, and with multiple segments a first segment without a
// file extension is treated as the bucket name, otherwise the default
// bucket is used and the whole path is the key.
func ParsePath(objectPath, defaultBucket string) (bucket, key string, err error) {
	trimmed := strings.Trim(objectPath, "/")
	if trimmed == "" {
		return "", "", apierror.New(apierror.BadRequest, "empty object path")
	}

	segments := strings.Split(trimmed, "/")
	if len(segments) == 1 {
		return defaultBucket, segments[0], nil
	}

	first := segments[0]
	if path.Ext(first) == "" {
		return first, strings.Join(segments[1:], "/"), nil
	}
	return defaultBucket, trimmed, nil
}

func (h *ObjectHandler) GetObject(c *gin.Context) {
	bucket, key, err := ParsePath(c.Param("path"), h.defaultBucket)
	if err != nil {
		apierror.Write(c, apierror.AsAPIError(err))
		return
	}

	start := time.Now()
	logger := h.logger.With("bucket", bucket, "key", key, "method", "GET")

	playlistURL := requestURL(c)
	if err := h.pipeline.Get(c.Request.Context(), c.Writer, c.Request, bucket, key, playlistURL); err != nil {
		logger.Warn("object fetch failed", "error", err, "elapsed", time.Since(start))
		apierror.Write(c, apierror.AsAPIError(err))
		return
	}
	logger.Info("object served", "elapsed", time.Since(start))
}

func (h *ObjectHandler) HeadObject(c *gin.Context) {
	bucket, key, err := ParsePath(c.Param("path"), h.defaultBucket)
	if err != nil {
		apierror.Write(c, apierror.AsAPIError(err))
		return
	}

	if err := h.pipeline.Head(c.Request.Context(), c.Writer, bucket, key); err != nil {
		apierror.Write(c, apierror.AsAPIError(err))
		return
	}
}

// requestURL reconstructs the externally-visible URL for the current
// request, used as the resolution base for relative URIs inside a
// playlist.
func requestURL(c *gin.Context) *url.URL {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	host := c.Request.Host
	return &url.URL{Scheme: scheme, Host: host, Path: c.Request.URL.Path}
}
