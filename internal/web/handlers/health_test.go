package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler_Check(t *testing.T) {
	tests := []struct {
		name       string
		probes     map[string]Probe
		wantStatus int
		wantBody   map[string]string
	}{
		{
			name:       "no probes",
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"status": "ok"},
		},
		{
			name: "all healthy",
			probes: map[string]Probe{
				"redis": func(context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"status": "ok", "redis": "ok"},
		},
		{
			name: "one failing",
			probes: map[string]Probe{
				"redis":     func(context.Context) error { return nil },
				"embedding": func(context.Context) error { return errors.New("connection refused") },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   map[string]string{"status": "degraded", "redis": "ok", "embedding": "connection refused"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			NewHealthHandler(tc.probes).Check(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			if recorder.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, recorder.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if len(body) != len(tc.wantBody) {
				t.Errorf("body = %v; want %v", body, tc.wantBody)
			}
			for k, v := range tc.wantBody {
				if body[k] != v {
					t.Errorf("body[%q] = %q; want %q", k, body[k], v)
				}
			}
		})
	}
}
