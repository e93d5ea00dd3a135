package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facescan/internal/scan"
)

type sseFrame struct {
	event string
	data  map[string]any
}

// readFrames parses SSE frames until the stream ends, skipping comments.
func readFrames(t *testing.T, body io.Reader, frames chan<- sseFrame) {
	t.Helper()
	defer close(frames)
	scanner := bufio.NewScanner(body)
	var current sseFrame
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data); err != nil {
				t.Errorf("bad SSE data %q: %v", line, err)
			}
		case line == "" && current.event != "":
			frames <- current
			current = sseFrame{}
		}
	}
}

func newSSEServer(t *testing.T, f *scanFixture) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/v1/scan/{scanId}/events", NewEventsHandler(f.relay, []string{"*"}).SSE(f.coordinator))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestEventsHandler_SSEStreamsUntilCompleted(t *testing.T) {
	f := newScanFixture(t)
	if err := f.tracker.Start(t.Context(), "s1", 2); err != nil {
		t.Fatal(err)
	}
	srv := newSSEServer(t, f)

	resp, err := http.Get(srv.URL + "/api/v1/scan/s1/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected Content-Type text/event-stream, got %q", got)
	}

	frames := make(chan sseFrame, 16)
	go readFrames(t, resp.Body, frames)

	first := <-frames
	if first.event != "status" || first.data["status"] != "running" || first.data["remaining"] != float64(2) {
		t.Fatalf("unexpected first frame %+v", first)
	}

	f.publish(t, scan.ProgressEvent{ScanID: "other", FileID: "x", Status: scan.ProgressNoMatch})
	f.publish(t, scan.MatchEvent{ScanID: "s1", FileID: "f1", FileName: "a.jpg"})
	f.publish(t, scan.TokenExpiredEvent{Message: "expired"})
	f.publish(t, scan.CompletedEvent{ScanID: "s1"})
	f.publish(t, scan.ProgressEvent{ScanID: "s1", FileID: "late", Status: scan.ProgressNoMatch})

	var got []string
	for frame := range frames {
		got = append(got, frame.event)
		if frame.event == "match" && frame.data["file_id"] != "f1" {
			t.Errorf("unexpected match frame %+v", frame)
		}
	}
	want := []string{"match", "token_expired", "completed"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v; want %v", got, want)
	}
}

func TestEventsHandler_SSECompletedScanClosesImmediately(t *testing.T) {
	f := newScanFixture(t)
	if err := f.tracker.Start(t.Context(), "s1", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.tracker.DecrementAndCheck(t.Context(), "s1", "f1"); err != nil {
		t.Fatal(err)
	}
	srv := newSSEServer(t, f)

	resp, err := http.Get(srv.URL + "/api/v1/scan/s1/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	frames := make(chan sseFrame, 4)
	readFrames(t, resp.Body, frames)

	var got []sseFrame
	for frame := range frames {
		got = append(got, frame)
	}
	if len(got) != 1 || got[0].data["status"] != "completed" {
		t.Errorf("expected a single completed status frame, got %+v", got)
	}
	if n := f.store.Subscribers(scan.EventChannel); n != 0 {
		t.Errorf("expected subscription to be released, %d left", n)
	}
}

func TestEventsHandler_SSESubscribeFailure(t *testing.T) {
	f := newScanFixture(t)
	f.store.SubscribeError = errors.New("redis down")
	srv := newSSEServer(t, f)

	resp, err := http.Get(srv.URL + "/api/v1/scan/s1/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}
}
