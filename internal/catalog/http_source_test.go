package catalog

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

const mappingJSON = `[
	{"id": 1, "name": "Dragon platebody", "value": 1500000, "limit": 70},
	{"id": 2, "name": "Saradomin brew(4)", "value": 120000, "limit": 2000}
]`

func TestHTTPSourceLoad(t *testing.T) {
	var gotUA atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(mappingJSON))
	}))
	defer server.Close()

	src, err := NewHTTPSource(HTTPConfig{URL: server.URL, UserAgent: "surge-test"})
	require.NoError(t, err)

	idx, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, "surge-test", gotUA.Load())

	item, ok := idx.Item(1)
	require.True(t, ok)
	assert.Equal(t, "Dragon platebody", item.Name)
	assert.Equal(t, 1500000, item.Value)
	assert.Equal(t, 70, item.BuyLimit)
}

func TestHTTPSourceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(mappingJSON))
	}))
	defer server.Close()

	src, err := NewHTTPSource(HTTPConfig{URL: server.URL, MaxRetries: 2})
	require.NoError(t, err)

	idx, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSourceClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	src, err := NewHTTPSource(HTTPConfig{URL: server.URL, MaxRetries: 3})
	require.NoError(t, err)

	_, err = src.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSourceEmptyMappingRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	src, err := NewHTTPSource(HTTPConfig{URL: server.URL})
	require.NoError(t, err)

	_, err = src.Load(context.Background())
	assert.Error(t, err)
}

func TestHTTPSourceContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer server.Close()

	src, err := NewHTTPSource(HTTPConfig{URL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = src.Load(ctx)
	assert.Error(t, err)
}

func TestHTTPSourceRequiresURL(t *testing.T) {
	_, err := NewHTTPSource(HTTPConfig{})
	assert.Error(t, err)
}
