package drive

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		reason string
		want   error
	}{
		{"range done", http.StatusRequestedRangeNotSatisfiable, "", ErrRangeDone},
		{"too large", http.StatusRequestEntityTooLarge, "", ErrOutOfSpace},
		{"conflict", http.StatusConflict, "", ErrExists},
		{"not found", http.StatusNotFound, "notFound", ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, "authError", ErrUnauthorized},
		{"quota", http.StatusForbidden, "storageQuotaExceeded", ErrOutOfSpace},
		{"parent not a folder", http.StatusForbidden, "parentNotAFolder", ErrExists},
		{"insufficient perms", http.StatusForbidden, "insufficientFilePermissions", ErrPermissionDenied},
		{"user rate limit", http.StatusForbidden, "userRateLimitExceeded", ErrTemporary},
		{"rate limit", http.StatusForbidden, "rateLimitExceeded", ErrTemporary},
		{"daily limit", http.StatusForbidden, "dailyLimitExceeded", ErrTemporary},
		{"429", http.StatusTooManyRequests, "", ErrTemporary},
		{"500", http.StatusInternalServerError, "", ErrTemporary},
		{"503", http.StatusServiceUnavailable, "backendError", ErrTemporary},
	}

	for _, tt := range tests {
		assert.ErrorIs(t, Classify(tt.status, tt.reason), tt.want, tt.name)
	}
}

func TestClassify_UnknownCombinationsAreUnclassified(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Classify(http.StatusBadRequest, "invalid"))
	assert.NoError(t, Classify(http.StatusForbidden, "domainPolicy"))
	assert.NoError(t, Classify(http.StatusGone, ""))
}

func TestAPIError_Unwrap(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", &APIError{StatusCode: 404, Reason: "notFound", Message: "File not found", Err: ErrNotFound})
	require.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "notFound")

	unclassified := &APIError{StatusCode: 400, Message: "bad"}
	assert.NoError(t, errors.Unwrap(unclassified))
	assert.Equal(t, "drive: HTTP 400: bad", unclassified.Error())
}

func TestParseErrorBody(t *testing.T) {
	t.Parallel()

	obj := `{"error":{"code":403,"message":"Rate Limit Exceeded","errors":[{"reason":"rateLimitExceeded","message":"x"}]}}`
	reason, msg := parseErrorBody([]byte(obj))
	assert.Equal(t, "rateLimitExceeded", reason)
	assert.Equal(t, "Rate Limit Exceeded", msg)

	arr := `[{"error":{"code":403,"errors":[{"reason":"storageQuotaExceeded","message":"full"}]}}]`
	reason, msg = parseErrorBody([]byte(arr))
	assert.Equal(t, "storageQuotaExceeded", reason)
	assert.Equal(t, "full", msg)

	reason, msg = parseErrorBody([]byte("<html>gateway</html>"))
	assert.Empty(t, reason)
	assert.Equal(t, "<html>gateway</html>", msg)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyTransportError(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, classifyTransportError(context.Canceled), context.Canceled)
	assert.NotErrorIs(t, classifyTransportError(context.Canceled), ErrDisconnected)

	assert.ErrorIs(t, classifyTransportError(&url.Error{Op: "Get", URL: "x", Err: timeoutErr{}}), ErrDisconnected)
	assert.ErrorIs(t, classifyTransportError(fmt.Errorf("read: %w", syscall.ECONNRESET)), ErrDisconnected)
	assert.ErrorIs(t, classifyTransportError(io.ErrUnexpectedEOF), ErrDisconnected)

	tlsErr := classifyTransportError(&url.Error{Op: "Get", URL: "x", Err: tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}})
	assert.ErrorIs(t, tlsErr, ErrTemporary)
	assert.ErrorIs(t, tlsErr, ErrTransientTLS)
	assert.NotErrorIs(t, tlsErr, ErrDisconnected)

	wrongVersion := classifyTransportError(errors.New("remote error: tls: WRONG_VERSION_NUMBER"))
	assert.ErrorIs(t, wrongVersion, ErrTransientTLS)

	pre := fmt.Errorf("%w: refresh failed", ErrUnauthorized)
	assert.Same(t, pre, classifyTransportError(pre))

	plain := errors.New("something else")
	assert.Equal(t, plain, classifyTransportError(plain))
}
