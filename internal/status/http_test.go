package status

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IC-Footprint/IC-Footprint-Main/internal/offset"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *HTTPProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewHTTPProvider(Config{BaseURL: server.URL + "/", APIKey: "secret-key", Timeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestNewHTTPProvider_RejectsBadURL(t *testing.T) {
	for _, base := range []string{"", "status.example.org", "ftp://status.example.org", "http://"} {
		_, err := NewHTTPProvider(Config{BaseURL: base}, zerolog.Nop())
		assert.Error(t, err, base)
	}
}

func TestFetchNetworkEmissions(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/nodes/getNodeEmissions", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("api-key"))
		assert.Equal(t, "application/json", r.Header.Get("accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"node-a","totalEmissions":50.5,"extra":"ignored"},{"name":"node-b","totalEmissions":0}]`))
	})

	nodes, err := p.FetchNetworkEmissions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []offset.Node{
		{Name: "node-a", OutstandingEmissions: 50.5},
		{Name: "node-b", OutstandingEmissions: 0},
	}, nodes)
}

func TestFetchNetworkEmissions_StrictSchema(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing totalEmissions", `[{"name":"node-a"}]`},
		{"missing name", `[{"totalEmissions":3}]`},
		{"empty name", `[{"name":"","totalEmissions":3}]`},
		{"non numeric emissions", `[{"name":"node-a","totalEmissions":"12"}]`},
		{"object instead of array", `{"name":"node-a","totalEmissions":3}`},
		{"null body", `null`},
		{"truncated", `[{"name":"node-a",`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := p.FetchNetworkEmissions(context.Background())
			require.Error(t, err)
			var fe *FetchError
			require.True(t, errors.As(err, &fe), "want *FetchError, got %T", err)
			assert.Equal(t, "fetch network emissions", fe.Op)
		})
	}
}

func TestFetchNetworkEmissions_Non2xx(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := p.FetchNetworkEmissions(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	assert.Contains(t, err.Error(), "status 502")
}

func TestFetchNetworkEmissions_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	p, err := NewHTTPProvider(Config{BaseURL: base, Timeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.FetchNetworkEmissions(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.StatusCode)
}

func TestFetchStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/units/ryjl3-tyaaa-aaaaa-aaaba-cai/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"Running","cycles":18446744073709551615,"memory_size":2048,"module_hash":"ab12"}`))
	})

	st, err := p.FetchStatus(context.Background(), "ryjl3-tyaaa-aaaaa-aaaba-cai")
	require.NoError(t, err)
	assert.Equal(t, UnitStatus{
		UnitID:     "ryjl3-tyaaa-aaaaa-aaaba-cai",
		State:      UnitRunning,
		Cycles:     18446744073709551615,
		MemorySize: 2048,
		ModuleHash: "ab12",
	}, st)
}

func TestFetchConsumption(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"stopped","cycles":1200}`))
	})

	cycles, err := p.FetchConsumption(context.Background(), "unit-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1200), cycles)
}

func TestFetchStatus_StrictSchema(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing cycles", `{"status":"running"}`},
		{"missing status", `{"cycles":10}`},
		{"negative cycles", `{"status":"running","cycles":-1}`},
		{"string cycles", `{"status":"running","cycles":"10"}`},
		{"unknown status", `{"status":"exploded","cycles":10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := p.FetchConsumption(context.Background(), "unit-1")
			var fe *FetchError
			require.True(t, errors.As(err, &fe), "want *FetchError, got %v", err)
			assert.Equal(t, "fetch unit status", fe.Op)
		})
	}
}

func TestFetchStatus_ContextCanceled(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"running","cycles":10}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.FetchStatus(ctx, "unit-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	p, err := NewHTTPProvider(Config{
		BaseURL: server.URL,
		Timeout: time.Second,
		Breaker: BreakerConfig{Failures: 2, Cooldown: time.Hour},
	}, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := p.FetchNetworkEmissions(context.Background())
		var fe *FetchError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, http.StatusBadGateway, fe.StatusCode)
	}

	_, err = p.FetchNetworkEmissions(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load(), "open breaker fails without calling upstream")
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown unit", http.StatusNotFound)
	}))
	defer server.Close()

	p, err := NewHTTPProvider(Config{
		BaseURL: server.URL,
		Breaker: BreakerConfig{Failures: 1},
	}, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := p.FetchStatus(context.Background(), "missing")
		var fe *FetchError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	}
	assert.Equal(t, int32(3), calls.Load())
}
