package httpsource_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipni/go-refreshcache/apierror"
	"github.com/ipni/go-refreshcache/source/httpsource"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	var gotPath, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotHeader = r.Header.Get("X-Api-Key")
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	src, err := httpsource.New(srv.URL)
	require.NoError(t, err)
	src.AddHeader("X-Api-Key", "secret")
	require.Equal(t, srv.URL, src.String())

	val, err := src.Load(context.Background(), "users", "CacheService:get:a b")
	require.NoError(t, err)
	require.Equal(t, "hello", string(val))
	require.Equal(t, "/users/CacheService:get:a%20b", gotPath)
	require.Equal(t, "secret", gotHeader)
}

func TestLoadKeyIsOneSegment(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.EscapedPath())
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	src, err := httpsource.New(srv.URL+"/origin", httpsource.WithRetry(0, 0, 0))
	require.NoError(t, err)

	val, err := src.Load(context.Background(), "users", "a/../b")
	require.NoError(t, err)
	require.Equal(t, "/origin/users/a/../b", string(val))

	_, err = src.Load(context.Background(), "users", "..")
	require.NoError(t, err)

	_, err = src.Load(context.Background(), "users", "100%")
	require.NoError(t, err)

	require.Equal(t, []string{
		"/origin/users/a%2F..%2Fb",
		"/origin/users/%2E%2E",
		"/origin/users/100%25",
	}, gotPaths)
}

func TestLoadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such user", http.StatusNotFound)
	}))
	defer srv.Close()

	src, err := httpsource.New(srv.URL)
	require.NoError(t, err)

	_, err = src.Load(context.Background(), "users", "1")
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status())
	require.Equal(t, "no such user", apiErr.Error())
}

func TestLoadRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	src, err := httpsource.New(srv.URL, httpsource.WithRetry(3, time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)

	val, err := src.Load(context.Background(), "c", "k")
	require.NoError(t, err)
	require.Equal(t, "ok", string(val))
	require.Equal(t, int32(3), calls.Load())

	// Without retries the first failure is returned.
	calls.Store(0)
	src, err = httpsource.New(srv.URL, httpsource.WithRetry(0, 0, 0))
	require.NoError(t, err)
	_, err = src.Load(context.Background(), "c", "k")
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusServiceUnavailable, apiErr.Status())
}

func TestNewBadURL(t *testing.T) {
	_, err := httpsource.New("ftp://example.com")
	require.Error(t, err)
}
