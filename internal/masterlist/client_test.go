package masterlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bf1942ingest/scoutd/internal/logging"
	"github.com/bf1942ingest/scoutd/internal/model"
	"github.com/stretchr/testify/require"
)

func TestFetchDropsMalformedEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[["1.2.3.4", 14567], "garbage", [1, 2, 3], ["5.6.7.8", "not-a-port"], ["9.9.9.9", 23000]]`))
	}))
	defer srv.Close()

	c := New(srv.URL, logging.New("error", "json"))
	addrs, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []model.Address{
		{IP: "1.2.3.4", Port: 14567},
		{IP: "9.9.9.9", Port: 23000},
	}, addrs)
}

func TestFetchErrorsOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, logging.New("error", "json"))
	_, err := c.Fetch(context.Background())
	require.Error(t, err)
}

func TestRunDeliversServersAfterFailedFetch(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[["1.1.1.1", 14567]]`))
	}))
	defer srv.Close()

	c := New(srv.URL, logging.New("error", "json"))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var got []model.Address
	calls := 0
	c.Run(ctx, 50*time.Millisecond, time.Second, func(servers []model.Address) {
		calls++
		got = servers
	})

	require.GreaterOrEqual(t, calls, 1)
	require.Equal(t, []model.Address{{IP: "1.1.1.1", Port: 14567}}, got)
}
