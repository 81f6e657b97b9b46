package httputil

import (
	"net/http"
)

// HTTPClient abstracts HTTP operations for testability.
// Use *http.Client in production; tests may substitute a fake.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient creates a new StandardClient wrapping the given http.Client.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// RoundTripFunc lets a function serve as a fake HTTPClient in tests.
type RoundTripFunc func(req *http.Request) (*http.Response, error)

// Do calls f.
func (f RoundTripFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}
