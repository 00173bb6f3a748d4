package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStatusServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		w.Write([]byte(body)) //nolint:errcheck // test handler
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestCollyTransportFetchesPage(t *testing.T) {
	t.Parallel()

	srv, hits := newStatusServer(t, http.StatusOK, "<html><body><p>pool sizing</p></body></html>")
	transport := NewCollyTransport(TransportConfig{}, zap.NewNop())

	page, err := transport.RoundTrip(context.Background(), srv.URL+"/pooling")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Contains(t, string(page.Body), "pool sizing")
	require.Contains(t, page.Headers.Get("Content-Type"), "text/html")
	require.EqualValues(t, 1, atomic.LoadInt32(hits))
}

func TestCollyTransportReturnsErrorStatusAsPage(t *testing.T) {
	t.Parallel()

	srv, hits := newStatusServer(t, http.StatusNotFound, "<html><body>nothing here</body></html>")
	transport := NewCollyTransport(TransportConfig{}, zap.NewNop())

	// A 404 is a page for the Fetcher to classify, not a transport error.
	page, err := transport.RoundTrip(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, page.StatusCode)
	require.Contains(t, string(page.Body), "nothing here")
	require.EqualValues(t, 1, atomic.LoadInt32(hits))
}

func TestCollyTransportReportsNetworkError(t *testing.T) {
	t.Parallel()

	srv, _ := newStatusServer(t, http.StatusOK, "ok")
	url := srv.URL
	srv.Close()

	transport := NewCollyTransport(TransportConfig{}, zap.NewNop())
	_, err := transport.RoundTrip(context.Background(), url)
	require.Error(t, err)
}

func TestFetchOverCollyTransportDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	srv, hits := newStatusServer(t, http.StatusNotFound, "<html><body>gone</body></html>")
	transport := NewCollyTransport(TransportConfig{}, zap.NewNop())
	fetcher := NewFetcher(transport, FetcherConfig{MaxRetries: 3}, zap.NewNop())

	_, ferr := fetcher.attempt(context.Background(), srv.URL+"/missing")
	require.NotNil(t, ferr)
	require.Equal(t, KindPermanentHTTP, ferr.Kind)

	machine := newRetryMachine(3, time.Millisecond)
	require.Equal(t, phasePermanentFailure, machine.Observe(ferr))
	require.EqualValues(t, 1, atomic.LoadInt32(hits))
}
