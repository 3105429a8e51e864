package sparql

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/dereksmith/semem/internal/semerr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	cfg := Config{
		Endpoints:    Endpoints{Query: srv.URL + "/query", Update: srv.URL + "/update"},
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		Timeout:      2 * time.Second,
	}
	return New(cfg, nil), srv
}

func TestQuerySuccess(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/sparql-results+json")
		w.Write([]byte(`{"results":{"bindings":[]}}`))
	})
	defer srv.Close()

	body, err := c.Query(context.Background(), "SELECT * WHERE { ?s ?p ?o }")
	assert.NoError(t, err)
	assert.Contains(t, string(body), "bindings")
}

func TestUpdateSuccess(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/sparql-update", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	err := c.Update(context.Background(), "INSERT DATA { <urn:1> <urn:p> <urn:2> }")
	assert.NoError(t, err)
}

func TestAuthFailedNotRetried(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer srv.Close()

	_, err := c.Query(context.Background(), "ASK {}")
	assert.True(t, semerr.Is(err, semerr.KindAuthFailed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBadRequestNotRetried(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("malformed query"))
	})
	defer srv.Close()

	_, err := c.Query(context.Background(), "SELECT ???")
	assert.True(t, semerr.Is(err, semerr.KindBadRequest))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransient5xxRetriedThenSucceeds(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/sparql-results+json")
		w.Write([]byte(`{}`))
	})
	defer srv.Close()

	body, err := c.Query(context.Background(), "ASK {}")
	assert.NoError(t, err)
	assert.Equal(t, "{}", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTransientExhaustsRetries(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer srv.Close()

	_, err := c.Query(context.Background(), "ASK {}")
	assert.True(t, semerr.Is(err, semerr.KindTransientNetwork))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestMalformedResponse(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/sparql-results+json")
		w.Write([]byte(`not json`))
	})
	defer srv.Close()

	_, err := c.Query(context.Background(), "ASK {}")
	assert.True(t, semerr.Is(err, semerr.KindMalformedResponse))
}

func TestNoEndpointConfigured(t *testing.T) {
	c := New(Config{}, nil)
	_, err := c.Query(context.Background(), "ASK {}")
	assert.True(t, semerr.Is(err, semerr.KindBadRequest))
}

func TestDiscoverPopulatesEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"boolean":true}`))
	}))
	defer srv.Close()

	eps, err := Discover(context.Background(), srv.Client(), srv.URL, "ds")
	assert.NoError(t, err)
	assert.Equal(t, srv.URL+"/ds", eps.Query)
	assert.Equal(t, srv.URL+"/ds", eps.Update)
	assert.Equal(t, srv.URL+"/ds/data", eps.GSP)
}
