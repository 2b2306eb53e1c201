package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harun/voxrelay/pkg/commandqueue"
	"github.com/harun/voxrelay/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/health", r.URL.Path)
			_ = json.NewEncoder(w).Encode(webhook.HealthReport{
				Status:     "ok",
				Uptime:     125,
				RouteCount: 17,
				Queue:      commandqueue.Stats{Calls: 2, Pending: 5},
			})
		}))
		defer srv.Close()

		output, err := execute(t, "", "status", "--url", srv.URL)
		require.NoError(t, err)

		assert.Contains(t, output, "Status: ok")
		assert.Contains(t, output, "Uptime: 2m5s")
		assert.Contains(t, output, "Routes: 17")
		assert.Contains(t, output, "Active calls: 2")
		assert.Contains(t, output, "Pending commands: 5")
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		output, err := execute(t, "", "status", "--url", url)
		require.NoError(t, err)
		assert.Contains(t, output, "Status: stopped")
	})

	t.Run("unhealthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		output, err := execute(t, "", "status", "--url", srv.URL)
		require.NoError(t, err)
		assert.Contains(t, output, "Status: stopped")
	})
}

func TestLocalURL(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"0.0.0.0", 3001, "http://127.0.0.1:3001"},
		{"", 8080, "http://127.0.0.1:8080"},
		{"::", 3001, "http://127.0.0.1:3001"},
		{"relay.internal", 3001, "http://relay.internal:3001"},
		{"::1", 3001, "http://[::1]:3001"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, localURL(tt.host, tt.port))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
