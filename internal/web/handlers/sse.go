package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/facescan/internal/constants"
	"github.com/kozaktomas/facescan/internal/scan"
)

// FeedOpener opens a live event feed, optionally restricted to one scan.
type FeedOpener interface {
	Open(ctx context.Context, scanID string) (*scan.Feed, error)
}

// EventsHandler streams scan events to browsers over SSE and WebSocket.
type EventsHandler struct {
	feeds          FeedOpener
	originPatterns []string
}

// NewEventsHandler creates a new events handler. originPatterns restricts
// WebSocket upgrades; "*" allows any origin.
func NewEventsHandler(feeds FeedOpener, originPatterns []string) *EventsHandler {
	return &EventsHandler{feeds: feeds, originPatterns: originPatterns}
}

// isScanTerminal reports whether the event ends a scan's stream.
func isScanTerminal(ev scan.Event) bool {
	return ev.Type() == scan.EventCompleted
}

// SSE streams the events of one scan until it completes or the client
// disconnects. The current status is sent first so late subscribers know
// where the scan stands.
func (h *EventsHandler) SSE(scanner Scanner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scanID := chi.URLParam(r, "scanId")
		if scanID == "" {
			respondError(w, http.StatusBadRequest, "missing scan ID")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			respondError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		ctx := r.Context()
		feed, err := h.feeds.Open(ctx, scanID)
		if err != nil {
			respondScanError(w, err)
			return
		}
		defer feed.Close()

		// Subscribe before reading status, so nothing published in between is lost.
		state, err := scanner.Status(ctx, scanID)
		if err != nil {
			respondScanError(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		sendSSEEvent(w, flusher, "status", state)
		if state.Status == scan.StatusCompleted {
			return
		}

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		ticker := time.NewTicker(constants.SSEKeepAliveInterval)
		defer ticker.Stop()
		events := make(chan scan.Event)
		done := make(chan error, 1)
		go func() {
			done <- feed.Forward(streamCtx, func(ev scan.Event) error {
				select {
				case events <- ev:
					return nil
				case <-streamCtx.Done():
					return streamCtx.Err()
				}
			})
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-done:
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Warn().Err(err).Str("scan_id", scanID).Msg("SSE feed ended")
				}
				return
			case <-ticker.C:
				_, _ = io.WriteString(w, ": keep-alive\n\n")
				flusher.Flush()
			case ev := <-events:
				sendSSEEvent(w, flusher, string(ev.Type()), ev)
				if isScanTerminal(ev) && ev.Scan() == scanID {
					return
				}
			}
		}
	}
}

// sendSSEEvent writes one SSE frame and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to encode SSE event")
		return
	}
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
