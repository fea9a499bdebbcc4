package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerServesScrapeEndpoint(t *testing.T) {
	srv := NewServer(ServerOptions{Addr: "127.0.0.1:0"})
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop(context.Background()) })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "fedlink_"),
		"scrape output must include the fedlink metric families")
}

func TestServerOptionDefaults(t *testing.T) {
	srv := NewServer(ServerOptions{Addr: ":0"})

	assert.Equal(t, "/metrics", srv.opts.Path)
	assert.Equal(t, defaultReadTimeout, srv.opts.ReadTimeout)
	assert.Equal(t, defaultWriteTimeout, srv.opts.WriteTimeout)
	assert.Equal(t, defaultIdleTimeout, srv.opts.IdleTimeout)

	srv = NewServer(ServerOptions{
		Addr:        ":0",
		Path:        "/m",
		ReadTimeout: 2 * time.Second,
	})
	assert.Equal(t, "/m", srv.opts.Path)
	assert.Equal(t, 2*time.Second, srv.opts.ReadTimeout)
	assert.Equal(t, defaultWriteTimeout, srv.opts.WriteTimeout)
}

func TestServerRejectsUnbindableAddress(t *testing.T) {
	srv := NewServer(ServerOptions{Addr: "256.0.0.1:1"})
	assert.Error(t, srv.Start(context.Background()))
}
