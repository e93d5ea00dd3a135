package scan

import (
	"encoding/json"
	"fmt"
)

// EventType tags an Event on the wire.
type EventType string

// Event types.
const (
	EventStarted      EventType = "started"
	EventProgress     EventType = "progress"
	EventMatch        EventType = "match"
	EventError        EventType = "error"
	EventTokenExpired EventType = "token_expired"
	EventCompleted    EventType = "completed"
)

// ProgressStatus is the classification carried by a progress event.
type ProgressStatus string

// Progress statuses.
const (
	ProgressNoFaceFound ProgressStatus = "no_face_found"
	ProgressNoMatch     ProgressStatus = "no_match"
)

// Event is one outward notification. The set of implementations is closed:
// StartedEvent, ProgressEvent, MatchEvent, ErrorEvent, TokenExpiredEvent and
// CompletedEvent.
type Event interface {
	Type() EventType
	// Scan returns the scan the event belongs to, or "" for broadcasts.
	Scan() string
	isEvent()
}

// StartedEvent is published once the scan's counter exists.
type StartedEvent struct {
	ScanID     string `json:"scan_id"`
	TotalFiles int    `json:"total_files"`
}

// ProgressEvent reports a file that was classified without a match.
type ProgressEvent struct {
	ScanID   string         `json:"scan_id"`
	FileID   string         `json:"file_id"`
	FileName string         `json:"file_name"`
	Status   ProgressStatus `json:"status"`
}

// MatchEvent reports a file containing the target face.
type MatchEvent struct {
	ScanID      string `json:"scan_id"`
	FileID      string `json:"file_id"`
	FileName    string `json:"file_name"`
	DownloadURL string `json:"download_url"`
}

// ErrorEvent reports a file that terminated with an error.
type ErrorEvent struct {
	ScanID   string `json:"scan_id"`
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	Message  string `json:"message"`
}

// TokenExpiredEvent is broadcast to every client when a worker sees the
// storage credential rejected.
type TokenExpiredEvent struct {
	Message string `json:"message"`
}

// CompletedEvent is published exactly once per scan.
type CompletedEvent struct {
	ScanID string `json:"scan_id"`
}

func (StartedEvent) Type() EventType      { return EventStarted }
func (ProgressEvent) Type() EventType     { return EventProgress }
func (MatchEvent) Type() EventType        { return EventMatch }
func (ErrorEvent) Type() EventType        { return EventError }
func (TokenExpiredEvent) Type() EventType { return EventTokenExpired }
func (CompletedEvent) Type() EventType    { return EventCompleted }

func (e StartedEvent) Scan() string    { return e.ScanID }
func (e ProgressEvent) Scan() string   { return e.ScanID }
func (e MatchEvent) Scan() string      { return e.ScanID }
func (e ErrorEvent) Scan() string      { return e.ScanID }
func (TokenExpiredEvent) Scan() string { return "" }
func (e CompletedEvent) Scan() string  { return e.ScanID }

func (StartedEvent) isEvent()      {}
func (ProgressEvent) isEvent()     {}
func (MatchEvent) isEvent()        {}
func (ErrorEvent) isEvent()        {}
func (TokenExpiredEvent) isEvent() {}
func (CompletedEvent) isEvent()    {}

func (e StartedEvent) MarshalJSON() ([]byte, error) {
	type plain StartedEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		plain
	}{EventStarted, plain(e)})
}

func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	type plain ProgressEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		plain
	}{EventProgress, plain(e)})
}

// MarshalJSON keeps the "status":"match" field older clients key on.
func (e MatchEvent) MarshalJSON() ([]byte, error) {
	type plain MatchEvent
	return json.Marshal(struct {
		Type   EventType `json:"type"`
		Status string    `json:"status"`
		plain
	}{EventMatch, "match", plain(e)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type plain ErrorEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		plain
	}{EventError, plain(e)})
}

func (e TokenExpiredEvent) MarshalJSON() ([]byte, error) {
	type plain TokenExpiredEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		plain
	}{EventTokenExpired, plain(e)})
}

func (e CompletedEvent) MarshalJSON() ([]byte, error) {
	type plain CompletedEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		plain
	}{EventCompleted, plain(e)})
}

// EncodeEvent serializes an event as a tagged JSON object.
func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent parses a tagged JSON object back into its concrete event.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding event tag: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch head.Type {
	case EventStarted:
		var e StartedEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventProgress:
		var e ProgressEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventMatch:
		var e MatchEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventError:
		var e ErrorEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventTokenExpired:
		var e TokenExpiredEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventCompleted:
		var e CompletedEvent
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", head.Type, err)
	}
	return ev, nil
}
