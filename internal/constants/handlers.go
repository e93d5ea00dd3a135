// Package constants provides shared constants used across the codebase.
package constants

import "time"

// HTTP handler constants
const (
	// RequestTimeout bounds non-streaming API requests
	RequestTimeout = 2 * time.Minute

	// HealthProbeTimeout bounds all dependency probes of one health check
	HealthProbeTimeout = 3 * time.Second
)

// Live update constants
const (
	// SSEKeepAliveInterval is how often an idle SSE stream sends a comment line
	SSEKeepAliveInterval = 25 * time.Second

	// WebSocketWriteTimeout bounds a single frame write to a slow client
	WebSocketWriteTimeout = 10 * time.Second
)
