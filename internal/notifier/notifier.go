// Package notifier delivers blocked-request events to a configured webhook:
// a bounded queue drained by a single worker, retrying failed deliveries
// with exponential backoff. Grounded on internal/updater's
// fetch-then-publish shape (internal/malwarelist.List.Refresh) for the
// retry-and-log-on-failure posture, and on internal/distlock's
// channel-based worker loop for the queue/drain structure.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/quay/zlog"

	"github.com/aikido-oss/safechain-proxy/internal/events"
)

const queueCapacity = 512

const (
	backoffBase   = 100 * time.Millisecond
	backoffCap    = 20 * time.Second
	backoffFactor = 2.0
	maxAttempts   = 5
)

// HTTPDoer is the minimal client interface the notifier needs; satisfied
// by *http.Client (including the pooled egress client).
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Notifier posts [events.BlockedEvent] values to WebhookURL as JSON,
// off the request-handling path. Enqueue never blocks: once the queue is
// full, events are dropped and counted, per the invariant that a slow or
// unreachable webhook must never add latency to a proxied request.
type Notifier struct {
	WebhookURL string
	client     HTTPDoer

	queue   chan events.BlockedEvent
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// New constructs a Notifier. Call [Notifier.Run] in a goroutine to start
// the worker.
func New(webhookURL string, client HTTPDoer) *Notifier {
	return &Notifier{
		WebhookURL: webhookURL,
		client:     client,
		queue:      make(chan events.BlockedEvent, queueCapacity),
	}
}

// Enqueue submits an event for delivery without blocking. It reports
// whether the event was accepted; false means the queue was full and the
// event was dropped.
func (n *Notifier) Enqueue(ev events.BlockedEvent) bool {
	select {
	case n.queue <- ev:
		return true
	default:
		n.dropped.Add(1)
		return false
	}
}

// Dropped reports the number of events dropped because the queue was full.
func (n *Notifier) Dropped() uint64 { return n.dropped.Load() }

// Run drains the queue until ctx is cancelled, delivering each event with
// retry. It returns once the queue has been drained (bounded by a 5s grace
// period) after ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	n.wg.Add(1)
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.queue:
			n.deliver(ctx, ev)
		case <-ctx.Done():
			n.drain(ctx)
			return
		}
	}
}

// drain flushes any events still queued at shutdown, bounded to 5s.
func (n *Notifier) drain(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-n.queue:
			n.deliver(ctx, ev)
		case <-ctx.Done():
			return
		default:
			return
		}
	}
}

// Wait blocks until [Notifier.Run] has returned (its caller's ctx has been
// cancelled and the shutdown drain has completed).
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, ev events.BlockedEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("notifier: marshal blocked event failed")
		return
	}

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("notifier: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("notifier: post event: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return struct{}{}, fmt.Errorf("notifier: webhook returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("notifier: webhook returned %d", resp.StatusCode))
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffBase
	bo.MaxInterval = backoffCap
	bo.Multiplier = backoffFactor
	bo.RandomizationFactor = 0.01

	_, err = backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(maxAttempts))
	if err != nil {
		zlog.Warn(ctx).Err(err).Str("product", ev.Artifact.Product).Str("identifier", ev.Artifact.Identifier).
			Msg("notifier: delivery failed after retries, dropping event")
	}
}
