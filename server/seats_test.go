package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   string
}

type playerApi struct {
	sync.Mutex
	requests []recordedRequest
	status   int
}

func newPlayerApi(t *testing.T, status int) (*playerApi, *httptest.Server) {
	api := &playerApi{status: status}
	svc := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		body, _ := io.ReadAll(request.Body)
		api.Lock()
		api.requests = append(api.requests, recordedRequest{
			method: request.Method,
			path:   request.URL.Path,
			auth:   request.Header.Get("authorization"),
			body:   string(body),
		})
		api.Unlock()
		writer.WriteHeader(api.status)
	}))
	t.Cleanup(svc.Close)
	return api, svc
}

func (a *playerApi) recorded() []recordedRequest {
	a.Lock()
	defer a.Unlock()
	return append([]recordedRequest(nil), a.requests...)
}

func TestHttpSeatCoordinator(t *testing.T) {
	api, svc := newPlayerApi(t, http.StatusOK)
	seats := NewHttpSeatCoordinator(svc.URL, "secret", time.Second)
	ctx := context.Background()

	require.NoError(t, seats.SitOut(ctx, "Steve", "10.0.0.1:1000"))
	require.NoError(t, seats.FillIn(ctx, "Steve", "10.0.0.1:1000"))
	require.NoError(t, seats.JoinAll(ctx))

	requests := api.recorded()
	require.Len(t, requests, 3)

	assert.Equal(t, http.MethodPost, requests[0].method)
	assert.Equal(t, "/sit_out", requests[0].path)
	assert.Equal(t, "secret", requests[0].auth)
	var body seatRequest
	require.NoError(t, json.Unmarshal([]byte(requests[0].body), &body))
	assert.Equal(t, seatRequest{Username: "Steve", Address: "10.0.0.1:1000"}, body)

	assert.Equal(t, http.MethodPost, requests[1].method)
	assert.Equal(t, "/fill_in", requests[1].path)
	assert.JSONEq(t, `{"username":"Steve","address":"10.0.0.1:1000"}`, requests[1].body)

	assert.Equal(t, http.MethodGet, requests[2].method)
	assert.Equal(t, "/join_all", requests[2].path)
}

func TestHttpSeatCoordinator_ErrorStatus(t *testing.T) {
	_, svc := newPlayerApi(t, http.StatusServiceUnavailable)
	seats := NewHttpSeatCoordinator(svc.URL, "secret", time.Second)

	err := seats.SitOut(context.Background(), "Steve", "10.0.0.1:1000")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Error(t, seats.FillIn(context.Background(), "Steve", "10.0.0.1:1000"))
	assert.Error(t, seats.JoinAll(context.Background()))
}
