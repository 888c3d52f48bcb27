package tiller

import (
	"errors"
	"fmt"
	"time"
)

// ErrAborted is returned from suspension points after Abort is observed.
// Directives ending with ErrAborted never write to the memory store.
var ErrAborted = errors.New("aborted")

// ErrClosed is returned by SteeringSystem.Start after Close/Abort.
var ErrClosed = errors.New("steering system closed")

// ErrModel wraps a failure from a model client, carrying the client name for
// logs and classification.
type ErrModel struct {
	Client  string
	Message string
}

func (e *ErrModel) Error() string {
	return fmt.Sprintf("%s: %s", e.Client, e.Message)
}

// ErrHTTP is a transport-level failure from an HTTP model adapter. Status
// drives classification (401/403 → critical, 429 → rate limit, 5xx →
// transient); RetryAfter, when parsed from the response, floors the backoff.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrSecurity is a security-gate rejection. Fatal to the directive and never
// retried.
type ErrSecurity struct {
	Reason string
}

func (e *ErrSecurity) Error() string {
	return "security rejection: " + e.Reason
}
