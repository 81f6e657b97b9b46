package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardClient_NilUsesDefault(t *testing.T) {
	assert.Same(t, http.DefaultClient, NewStandardClient(nil).Client)
}

func TestStandardClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.Method)
	}))
	defer srv.Close()

	var client HTTPClient = NewStandardClient(srv.Client())
	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "POST", string(body))
}

func TestRoundTripFunc(t *testing.T) {
	boom := errors.New("boom")
	var client HTTPClient = RoundTripFunc(func(*http.Request) (*http.Response, error) { return nil, boom })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := client.Do(req)
	assert.ErrorIs(t, err, boom)
}
