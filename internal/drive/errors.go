// Package drive provides an HTTP client for the Google Drive v3 REST API
// and the classification of its failures into a closed set of sentinel
// errors that drive retry and disconnect decisions.
package drive

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, drive.ErrNotFound) to check.
var (
	ErrNotFound         = errors.New("drive: not found")
	ErrExists           = errors.New("drive: already exists")
	ErrOutOfSpace       = errors.New("drive: out of space")
	ErrUnauthorized     = errors.New("drive: unauthorized")
	ErrPermissionDenied = errors.New("drive: permission denied")
	ErrTemporary        = errors.New("drive: temporary failure")
	ErrDisconnected     = errors.New("drive: disconnected")

	// ErrRangeDone is the 416 answer to a ranged download past the end of
	// the content. It marks stream completion, not a failure.
	ErrRangeDone = errors.New("drive: requested range past end of content")

	// ErrTransientTLS marks intermittent TLS record/version failures. It is
	// always joined with ErrTemporary.
	ErrTransientTLS = errors.New("drive: transient tls failure")
)

// Service reason strings that change the meaning of a 403.
const (
	reasonStorageQuota      = "storageQuotaExceeded"
	reasonParentNotAFolder  = "parentNotAFolder"
	reasonInsufficientPerms = "insufficientFilePermissions"
	reasonUserRateLimit     = "userRateLimitExceeded"
	reasonRateLimit         = "rateLimitExceeded"
	reasonDailyLimit        = "dailyLimitExceeded"
)

// APIError is a non-2xx Drive response. Err holds the classified sentinel,
// or nil when the status/reason combination is not one we recognize; in
// that case the error surfaces as-is so new failure modes are not masked.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("drive: HTTP %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}

	return fmt.Sprintf("drive: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Classify maps a status code and service reason to a sentinel error.
// It returns nil for combinations that have no semantic kind.
func Classify(status int, reason string) error {
	switch status {
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeDone
	case http.StatusRequestEntityTooLarge:
		return ErrOutOfSpace
	case http.StatusConflict:
		// Another principal is modifying the object.
		return ErrExists
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrTemporary
	case http.StatusForbidden:
		switch reason {
		case reasonStorageQuota:
			return ErrOutOfSpace
		case reasonParentNotAFolder:
			return ErrExists
		case reasonInsufficientPerms:
			return ErrPermissionDenied
		case reasonUserRateLimit, reasonRateLimit, reasonDailyLimit:
			return ErrTemporary
		}

		return nil
	}

	if shouldRetry(status, reason) {
		return ErrTemporary
	}

	return nil
}

// shouldRetry mirrors the service's published retry guidance: 5xx, 429,
// and 403 with a rate-limit reason.
func shouldRetry(status int, reason string) bool {
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return true
	}

	return status == http.StatusForbidden && (reason == reasonUserRateLimit || reason == reasonRateLimit)
}

// errorEnvelope is the JSON error body. Batch endpoints wrap it in an array.
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// parseErrorBody extracts the reason and message from an error response.
// Unparseable bodies yield an empty reason and the raw body as message.
func parseErrorBody(body []byte) (reason, message string) {
	trimmed := strings.TrimSpace(string(body))

	var env errorEnvelope
	if strings.HasPrefix(trimmed, "[") {
		var arr []errorEnvelope
		if err := json.Unmarshal(body, &arr); err != nil || len(arr) == 0 {
			return "", trimmed
		}

		env = arr[0]
	} else if err := json.Unmarshal(body, &env); err != nil {
		return "", trimmed
	}

	message = env.Error.Message
	if len(env.Error.Errors) > 0 {
		reason = env.Error.Errors[0].Reason

		if message == "" {
			message = env.Error.Errors[0].Message
		}
	}

	if message == "" {
		message = trimmed
	}

	return reason, message
}

// classifyTransportError converts a failure that happened before any HTTP
// response was read. Context cancellation passes through untouched.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// Token acquisition errors arrive pre-classified.
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrDisconnected) || errors.Is(err, ErrTemporary) {
		return err
	}

	if isTransientTLS(err) {
		return fmt.Errorf("%w: %w: %v", ErrTemporary, ErrTransientTLS, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrDisconnected, err)
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return fmt.Errorf("%w: connection closed by remote host: %v", ErrDisconnected, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	return err
}

// isTransientTLS reports TLS record-layer failures that resolve on retry.
func isTransientTLS(err error) bool {
	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "WRONG_VERSION") || strings.Contains(msg, "tls: bad record MAC")
}
