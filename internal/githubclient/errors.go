package githubclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes for upstream GitHub failures.
const (
	CodeInvalidToken           = "invalid_token"
	CodeRateLimitedOrForbidden = "rate_limited_or_forbidden"
	CodeNotFound               = "not_found"
	CodeUpstreamUnavailable    = "upstream_unavailable"
	CodeBadUpstreamRequest     = "bad_upstream_request"
)

// ErrEmptyDiff indicates GitHub returned a blank or whitespace-only diff.
var ErrEmptyDiff = errors.New("github: empty pull request diff")

// APIError represents a classified GitHub API failure.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api: %s (status %d)", e.Message, e.Status)
}

func upstreamUnavailable(message string) *APIError {
	return &APIError{
		Status:  http.StatusBadGateway,
		Code:    CodeUpstreamUnavailable,
		Message: message,
	}
}

// classifyStatus maps an upstream HTTP status to the unified error taxonomy.
// It returns nil for success statuses. All outbound GitHub calls share this
// mapping.
func classifyStatus(status int, fallback string) *APIError {
	switch {
	case status < 400:
		return nil
	case status == http.StatusUnauthorized:
		return &APIError{Status: http.StatusUnauthorized, Code: CodeInvalidToken, Message: "Invalid GitHub token"}
	case status == http.StatusForbidden:
		return &APIError{Status: http.StatusForbidden, Code: CodeRateLimitedOrForbidden, Message: "GitHub API rate limit or access denied"}
	case status == http.StatusNotFound:
		return &APIError{Status: http.StatusNotFound, Code: CodeNotFound, Message: "GitHub resource not found"}
	case status >= 500:
		return &APIError{Status: http.StatusBadGateway, Code: CodeUpstreamUnavailable, Message: "GitHub is currently unavailable"}
	default:
		return &APIError{Status: http.StatusBadRequest, Code: CodeBadUpstreamRequest, Message: fallback}
	}
}
