package records

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/arvore/internal/apperr"
)

func testClient(t *testing.T, h http.HandlerFunc, mutate func(*ClientConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := ClientConfig{
		BaseURL:     srv.URL + "/api.php",
		CPFToken:    "cpf-token",
		ParentToken: "parent-token",
		Timeout:     2 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:  1,
			Interval:     time.Minute,
			Timeout:      time.Minute,
			FailureRatio: 0.5,
			MinRequests:  2,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg, nil, slog.New(slog.DiscardHandler))
}

func TestClientLookupByIdentifier(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cpf-token", r.URL.Query().Get("token"))
		assert.Equal(t, "38579754828", r.URL.Query().Get("cpf"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"NOME":"JOAO SILVA","CPF":"38579754828","SEXO":"M"}`))
	}, nil)

	p, err := c.LookupByIdentifier(context.Background(), "385.797.548-28")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "JOAO SILVA", p.Name)
}

func TestClientMissAndMalformed(t *testing.T) {
	bodies := []string{`{}`, `null`, `{"NOME":`, `<html>oops</html>`}
	var i atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(bodies[int(i.Add(1))-1]))
	}, nil)

	for range bodies {
		p, err := c.LookupByIdentifier(context.Background(), "1")
		assert.NoError(t, err)
		assert.Nil(t, p)
	}
}

func TestClientNotFoundStatusIsMiss(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, nil)
	p, err := c.LookupByIdentifier(context.Background(), "1")
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestClientServerErrorTripsBreaker(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.LookupByIdentifier(ctx, "1")
		require.Error(t, err)
		assert.False(t, errors.Is(err, apperr.ErrUnavailable))
	}

	_, err := c.LookupByIdentifier(ctx, "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientBreakerNeedsFailuresToTrip(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"NOME":"JOAO SILVA","CPF":"1","SEXO":"M"}`))
	}, func(cfg *ClientConfig) { cfg.Breaker.FailureRatio = 0 })

	for i := 0; i < 5; i++ {
		p, err := c.LookupByIdentifier(context.Background(), "1")
		require.NoError(t, err)
		require.NotNil(t, p)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestClientLookupChildren(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "parent-token", r.URL.Query().Get("token"))
		if r.URL.Query().Get("mae") == "MARIA SILVA" {
			_, _ = w.Write([]byte(`[{"NOME":"ANA SILVA","CPF":"22233344455","SEXO":"F","MAE":"MARIA SILVA","PAI":"JOSE SILVA"}]`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"nothing"}`))
	}, nil)

	ctx := context.Background()
	kids, err := c.LookupChildren(ctx, "MARIA SILVA", RoleMother)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	require.NotNil(t, kids[0].Father)
	assert.Equal(t, "JOSE SILVA", *kids[0].Father)

	kids, err = c.LookupChildren(ctx, "JOSE SILVA", RoleFather)
	require.NoError(t, err)
	assert.Empty(t, kids)

	kids, err = c.LookupChildren(ctx, "", RoleFather)
	require.NoError(t, err)
	assert.Empty(t, kids)
}

func TestClientRateLimitHonoursContext(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, func(cfg *ClientConfig) {
		cfg.RatePerSecond = 0.001
		cfg.Burst = 1
	})

	ctx := context.Background()
	_, err := c.LookupByIdentifier(ctx, "1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = c.LookupByIdentifier(ctx, "1")
	assert.Error(t, err)
}
