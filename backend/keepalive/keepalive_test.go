package keepalive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPing(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	logger := zerolog.Nop()
	p := New(Config{Logger: &logger, URL: ts.URL + "/", Interval: 10 * time.Millisecond})

	if code := p.ping(context.Background()); code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go p.Run(ctx, wg)

	deadline := time.Now().Add(5 * time.Second)
	for hits.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()
	if hits.Load() < 3 {
		t.Errorf("expected periodic pings, got %d", hits.Load())
	}
}

func TestPingUnreachable(t *testing.T) {
	logger := zerolog.Nop()
	p := New(Config{Logger: &logger, URL: "http://127.0.0.1:1"})
	if code := p.ping(context.Background()); code != -1 {
		t.Errorf("expected failure marker, got %d", code)
	}
}
