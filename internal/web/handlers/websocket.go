package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/facescan/internal/constants"
	"github.com/kozaktomas/facescan/internal/scan"
)

// WebSocket relays events as text frames, one JSON event per frame. The
// optional scan_id query parameter restricts the feed to one scan.
func (h *EventsHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	scanID := r.URL.Query().Get("scan_id")

	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	for _, p := range h.originPatterns {
		if p == "*" {
			opts = &websocket.AcceptOptions{InsecureSkipVerify: true}
			break
		}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	// Reads are discarded; the returned context ends when the client goes away.
	ctx := conn.CloseRead(r.Context())

	feed, err := h.feeds.Open(ctx, scanID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open event feed")
		conn.Close(websocket.StatusInternalError, "event feed unavailable")
		return
	}
	defer feed.Close()

	log.Info().Str("scan_id", scanID).Msg("WebSocket client connected")
	err = feed.Forward(ctx, func(ev scan.Event) error {
		payload, err := scan.EncodeEvent(ev)
		if err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, constants.WebSocketWriteTimeout)
		defer cancel()
		return conn.Write(wctx, websocket.MessageText, payload)
	})

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info().Str("scan_id", scanID).Msg("WebSocket client disconnected")
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, scan.ErrFeedClosed):
		conn.Close(websocket.StatusGoingAway, "event feed closed")
	default:
		log.Warn().Err(err).Msg("WebSocket error")
	}
}
