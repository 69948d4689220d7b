// Package client provides the content client used by task bodies to reach an
// external HTTP service.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client fetches content from an external service.
//
// Arguments are transport-specific. The HTTP client takes the request path as
// args[0] (string) and an optional query as args[1] (map[string]string).
type Client interface {
	GetContent(ctx context.Context, args ...any) (any, error)
}

// Config configures the HTTP client.
type Config struct {
	BaseURL   string
	Token     string // optional bearer token
	UserAgent string
	Timeout   time.Duration
	RateLimit float64 // requests per second; <= 0 disables limiting
	Burst     int
}

// ErrBadArgs is returned when GetContent is called with unusable arguments.
var ErrBadArgs = errors.New("client: bad arguments")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("client: http status %d (%s)", e.Code, e.Status)
	}
	return fmt.Sprintf("client: http status %d (%s): %s", e.Code, e.Status, e.Body)
}
