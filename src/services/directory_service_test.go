package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectorySearch(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/mf/search", r.URL.Path)
		assert.Equal(t, "parag parikh", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"schemeCode": 118989, "schemeName": "Parag Parikh Flexi Cap Fund - Direct Growth"},
			{"schemeCode": 122639, "schemeName": "Parag Parikh Flexi Cap Fund - Regular Growth"},
			{"schemeCode": 0, "schemeName": ""}
		]`))
	}))
	defer server.Close()

	directory := NewDirectoryService(server.URL, 5*time.Second, time.Minute)

	candidates, err := directory.Search(context.Background(), "parag parikh")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "118989", candidates[0].SchemeCode)
	assert.Equal(t, "Parag Parikh Flexi Cap Fund - Direct Growth", candidates[0].SchemeName)

	// Second identical search is served from the cache.
	_, err = directory.Search(context.Background(), "parag parikh")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDirectorySearchUnreachable(t *testing.T) {
	directory := NewDirectoryService("http://127.0.0.1:1", time.Second, time.Minute)
	_, err := directory.Search(context.Background(), "parag parikh")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestDirectorySearchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	directory := NewDirectoryService(server.URL, time.Second, time.Minute)
	_, err := directory.Search(context.Background(), "parag parikh")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestDirectorySearchMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not": "a list"}`))
	}))
	defer server.Close()

	directory := NewDirectoryService(server.URL, time.Second, time.Minute)
	_, err := directory.Search(context.Background(), "parag parikh")
	assert.ErrorIs(t, err, ErrAmbiguousResponse)
}
