package upload

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

func healthServer(t *testing.T) (*httptest.Server, *atomic.Bool) {
	t.Helper()
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv, &healthy
}

func TestMonitor_ProbeAndSubscribe(t *testing.T) {
	srv, healthy := healthServer(t)
	m := NewMonitor(srv.URL+"/healthz", time.Hour, time.Second)
	updates, cancel := m.Subscribe()
	defer cancel()

	assert.True(t, m.Probe(context.Background()))
	assert.True(t, m.Online())
	select {
	case <-updates:
		t.Fatal("no transition expected while state is unchanged")
	default:
	}

	healthy.Store(false)
	assert.False(t, m.Probe(context.Background()))
	assert.False(t, m.Online())
	assert.False(t, <-updates)

	healthy.Store(true)
	m.Probe(context.Background())
	assert.True(t, <-updates)
}

func TestMonitor_UnreachableIsOffline(t *testing.T) {
	srv, _ := healthServer(t)
	url := srv.URL
	srv.Close()

	m := NewMonitor(url, time.Hour, 200*time.Millisecond)
	assert.False(t, m.Probe(context.Background()))
}

func TestMonitor_SubscriberKeepsLatest(t *testing.T) {
	m := NewMonitor("http://unused", time.Hour, time.Second)
	updates, cancel := m.Subscribe()
	m.set(false)
	m.set(true)
	m.set(false)
	assert.False(t, <-updates)

	cancel()
	cancel()
	_, ok := <-updates
	assert.False(t, ok)
}

func TestMonitor_RunStopsWithContext(t *testing.T) {
	srv, healthy := healthServer(t)
	healthy.Store(false)
	m := NewMonitor(srv.URL, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return !m.Online() }, time.Second, 5*time.Millisecond)
	healthy.Store(true)
	require.Eventually(t, m.Online, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
