package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facescan/internal/scan"
	"github.com/kozaktomas/facescan/internal/scan/mock"
)

var (
	targetImage = []byte("target-image")
	targetFace  = scan.Embedding{0.1, 0.2, 0.3}
)

// scanFixture wires a real coordinator over in-memory collaborators.
type scanFixture struct {
	store       *mock.Store
	queue       *mock.Queue
	lister      *mock.Lister
	encoder     *mock.Encoder
	publisher   *scan.Publisher
	tracker     *scan.Tracker
	coordinator *scan.Coordinator
	relay       *scan.Relay
}

func newScanFixture(t *testing.T) *scanFixture {
	t.Helper()
	f := &scanFixture{
		store:   mock.NewStore(),
		queue:   mock.NewQueue(),
		lister:  &mock.Lister{},
		encoder: mock.NewEncoder(),
	}
	f.encoder.Put(targetImage, targetFace)
	f.publisher = scan.NewPublisher(f.store)
	f.tracker = scan.NewTracker(f.store, f.publisher, time.Hour)
	f.coordinator = scan.NewCoordinator(f.encoder, f.lister, f.queue, f.tracker, f.publisher)
	f.relay = scan.NewRelay(f.store)
	return f
}

// publish sends ev on the event channel.
func (f *scanFixture) publish(t *testing.T, ev scan.Event) {
	t.Helper()
	if err := f.publisher.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

// waitForSubscribers blocks until n feeds are subscribed.
func (f *scanFixture) waitForSubscribers(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.store.Subscribers(scan.EventChannel) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func encodedTarget() string {
	return base64.StdEncoding.EncodeToString(targetImage)
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
