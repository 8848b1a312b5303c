package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgevod/proxy/internal/apierror"
)

// ExternalHandler proxies playlist references the rewriter could not
// re-anchor onto this edge because they resolve to a different host
// entirely — an ad-insertion segment or a third-party key server
// referenced from an otherwise origin-hosted playlist.
//
// Because the target URL is attacker-influenced (it round-trips through a
// playlist the origin served), the client's Transport refuses to dial any
// address that resolves to a private, loopback, link-local, or otherwise
// non-routable range — checked against the address actually dialed rather
// than the literal hostname, so a DNS record that resolves a public-looking
// name to an internal address is still blocked.
type ExternalHandler struct {
	logger *slog.Logger
	client *http.Client
}

func NewExternalHandler(logger *slog.Logger, timeout time.Duration) *ExternalHandler {
	dialer := &net.Dialer{Timeout: timeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ip := net.ParseIP(host)
			if ip == nil {
				resolved, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
				if err != nil || len(resolved) == 0 {
					return nil, fmt.Errorf("refusing to dial unresolved host %q", host)
				}
				ip = resolved[0]
			}
			if !isRoutablePublic(ip) {
				return nil, fmt.Errorf("refusing to dial disallowed address %s", ip)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		},
	}
	return &ExternalHandler{logger: logger, client: &http.Client{Timeout: timeout, Transport: transport}}
}

// isRoutablePublic reports whether ip is safe to dial on behalf of a
// client-supplied URL: not loopback, link-local, multicast, unspecified, or
// within a private (RFC 1918 / RFC 4193) range.
func isRoutablePublic(ip net.IP) bool {
	switch {
	case ip.IsLoopback(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(),
		ip.IsMulticast(),
		ip.IsUnspecified(),
		ip.IsPrivate():
		return false
	default:
		return true
	}
}

// Proxy streams the response for the URL carried in the "u" query
// parameter, forwarding a Range request through and passing a successful
// response's status and cacheability headers back unchanged; an upstream
// status of 400 or above is answered with an origin-failure error. The destination
// host is resolved and checked by the client's Transport before any
// connection is made.
func (h *ExternalHandler) Proxy(c *gin.Context) {
	raw := c.Query("u")
	if raw == "" {
		apierror.Write(c, apierror.New(apierror.BadRequest, "missing u query parameter"))
		return
	}
	target, err := url.Parse(raw)
	if err != nil || !target.IsAbs() {
		apierror.Write(c, apierror.New(apierror.BadRequest, "invalid external URL"))
		return
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		apierror.Write(c, apierror.New(apierror.BadRequest, "external URL must be http or https"))
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		apierror.Write(c, apierror.Wrap(apierror.OriginFailure, "building external request failed", err))
		return
	}
	if rangeHeader := c.GetHeader("Range"); rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Warn("external fetch failed", "url", target.String(), "error", err)
		apierror.Write(c, apierror.Wrap(apierror.OriginFailure, "external fetch failed", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apierror.Write(c, apierror.New(apierror.OriginFailure, "external host returned an error status"))
		return
	}

	for _, header := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "ETag", "Last-Modified", "Cache-Control"} {
		if v := resp.Header.Get(header); v != "" {
			c.Header(header, v)
		}
	}
	c.Status(resp.StatusCode)
	_, _ = io.Copy(c.Writer, resp.Body)
}
