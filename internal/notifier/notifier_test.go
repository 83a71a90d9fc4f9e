package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/aikido-oss/safechain-proxy/internal/events"
	"github.com/aikido-oss/safechain-proxy/internal/version"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mustVersion(t *testing.T, s string) version.PackageVersion {
	t.Helper()
	v, err := version.Parse(s)
	if err != nil {
		t.Fatalf("version.Parse(%q): %v", s, err)
	}
	return v
}

func TestEnqueueDeliversToWebhook(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, srv.Client())
	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)

	ev := events.BlockedEvent{Artifact: events.BlockedArtifact{Product: "npm", Identifier: "evil-pkg", Version: mustVersion(t, "1.0.0")}}
	if !n.Enqueue(ev) {
		t.Fatal("expected Enqueue to succeed")
	}

	deadline := time.After(2 * time.Second)
	for received.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for webhook delivery")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	n.Wait()
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(block)

	n := New(srv.URL, srv.Client())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	ev := events.BlockedEvent{Artifact: events.BlockedArtifact{Product: "npm", Identifier: "evil-pkg", Version: mustVersion(t, "1.0.0")}}
	// First event occupies the worker (blocked in the handler); fill the
	// queue past capacity to force a drop.
	n.Enqueue(ev)
	for i := 0; i < queueCapacity+10; i++ {
		n.Enqueue(ev)
	}
	if n.Dropped() == 0 {
		t.Error("expected at least one dropped event once the queue is saturated")
	}
}

func TestDeliverGivesUpOnPermanentClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := New(srv.URL, srv.Client())
	n.deliver(context.Background(), events.BlockedEvent{})

	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", got)
	}
}
