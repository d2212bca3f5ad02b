package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// FailureKind classifies a failed API call. Only transient failures are
// worth retrying within a run; the other kinds are deterministic.
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailureQuotaExhausted
	FailureAuthInvalid
	FailureMalformedRequest
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureQuotaExhausted:
		return "quota-exhausted"
	case FailureAuthInvalid:
		return "auth-invalid"
	case FailureMalformedRequest:
		return "malformed-request"
	}
	return "unknown"
}

// APIError is a failed YouTube Data API call with its classified kind.
type APIError struct {
	Kind       FailureKind
	StatusCode int
	Reason     string // machine reason from the error body, e.g. "quotaExceeded"
	Message    string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("youtube API %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("youtube API %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the failure may resolve by itself within a run.
func (e *APIError) Retryable() bool {
	return e.Kind == FailureTransient
}

// googleErrorBody is the standard Google API error envelope.
type googleErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// classifyResponse turns a non-2xx response into an *APIError. The body is
// consumed; callers close it.
func classifyResponse(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope googleErrorBody
	var reason, message string
	if json.Unmarshal(body, &envelope) == nil {
		message = envelope.Error.Message
		if len(envelope.Error.Errors) > 0 {
			reason = envelope.Error.Errors[0].Reason
		}
	}
	return &APIError{
		Kind:       classifyFailure(resp.StatusCode, reason),
		StatusCode: resp.StatusCode,
		Reason:     reason,
		Message:    message,
	}
}

// classifyFailure maps HTTP status + error reason onto the failure taxonomy.
// A 403 without a recognized reason is treated as quota exhaustion, the way
// the Data API reports a spent daily budget.
func classifyFailure(status int, reason string) FailureKind {
	switch reason {
	case "quotaExceeded", "dailyLimitExceeded":
		return FailureQuotaExhausted
	case "rateLimitExceeded", "userRateLimitExceeded":
		return FailureTransient
	case "authError", "expired", "invalidCredentials":
		return FailureAuthInvalid
	}
	switch {
	case status == http.StatusUnauthorized:
		return FailureAuthInvalid
	case status == http.StatusForbidden:
		return FailureQuotaExhausted
	case status == http.StatusBadRequest:
		return FailureMalformedRequest
	case status == http.StatusTooManyRequests || status >= 500:
		return FailureTransient
	}
	return FailureMalformedRequest
}
