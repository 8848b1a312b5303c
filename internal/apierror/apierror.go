// Package apierror defines the uniform error envelope surfaced to clients
// and the small set of error kinds the request handler classifies origin
// and validation failures into.
package apierror

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Kind is one of the error classifications the request handler produces.
type Kind string

const (
	BadRequest     Kind = "bad-request"
	NotFound       Kind = "not-found"
	Forbidden      Kind = "forbidden"
	OriginFailure  Kind = "origin-failure"
	RewriteFailure Kind = "rewrite-failure"
)

var statusByKind = map[Kind]int{
	BadRequest:     http.StatusBadRequest,
	NotFound:       http.StatusNotFound,
	Forbidden:      http.StatusForbidden,
	OriginFailure:  http.StatusBadGateway,
	RewriteFailure: http.StatusInternalServerError,
}

// Error is the typed error carried through the handler layer. It satisfies
// the error interface so it can flow through normal Go error returns.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// envelope is the {code, message, success, timestamp} body every error
// response carries, regardless of kind.
type envelope struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
}

// Write sends the uniform error envelope and aborts the gin context. If it
// is called after headers were flushed for a streaming response, gin's
// ResponseWriter keeps the status it already committed, so no second status
// code is sent; the envelope body is still written after the bytes already
// sent.
func Write(c *gin.Context, err *Error) {
	c.AbortWithStatusJSON(err.Status(), envelope{
		Code:      string(err.Kind),
		Message:   err.Message,
		Success:   false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// AsAPIError extracts an *Error from err, defaulting to an origin-failure
// classification for anything unrecognized.
func AsAPIError(err error) *Error {
	if apiErr, ok := err.(*Error); ok {
		return apiErr
	}
	return Wrap(OriginFailure, "unclassified failure", err)
}
