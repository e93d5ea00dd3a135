package faces

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/facescan/internal/scan"
)

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDownscale(t *testing.T) {
	tests := []struct {
		name                  string
		width, height         int
		maxSize               int
		wantWidth, wantHeight int
		unchanged             bool
	}{
		{"within bounds", 100, 80, 120, 100, 80, true},
		{"exactly at bound", 120, 60, 120, 120, 60, true},
		{"landscape", 400, 200, 100, 100, 50, false},
		{"portrait", 150, 600, 120, 30, 120, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := encodePNG(t, createTestImage(tc.width, tc.height))
			out, err := Downscale(data, tc.maxSize)
			if err != nil {
				t.Fatalf("Downscale() error = %v", err)
			}
			if tc.unchanged {
				if !bytes.Equal(out, data) {
					t.Error("image within bounds was re-encoded")
				}
				return
			}
			img, err := jpeg.Decode(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("output is not a JPEG: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tc.wantWidth || b.Dy() != tc.wantHeight {
				t.Errorf("size = %dx%d; want %dx%d", b.Dx(), b.Dy(), tc.wantWidth, tc.wantHeight)
			}
		})
	}
}

func TestDownscaleRejectsGarbage(t *testing.T) {
	if _, err := Downscale([]byte("definitely not an image"), 100); err == nil {
		t.Error("expected error")
	}
}

func TestEuclideanDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"3-4-5", []float32{0, 0}, []float32{3, 4}, 5},
		{"length mismatch", []float32{1}, []float32{1, 2}, math.Inf(1)},
		{"empty", nil, nil, math.Inf(1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := EuclideanDistance(tc.a, tc.b); got != tc.want {
				t.Errorf("EuclideanDistance() = %v; want %v", got, tc.want)
			}
		})
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{2, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CosineDistance(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("CosineDistance() = %v; want %v", got, tc.want)
			}
		})
	}
}

func TestMatcherThresholdIsStrict(t *testing.T) {
	m, err := NewMatcher(MetricEuclidean, 0.45)
	if err != nil {
		t.Fatal(err)
	}
	known := scan.Embedding{0, 0}
	tests := []struct {
		name      string
		candidate scan.Embedding
		want      bool
	}{
		{"same", scan.Embedding{0, 0}, true},
		{"close", scan.Embedding{0.3, 0}, true},
		{"far", scan.Embedding{0.6, 0}, false},
		{"other dimension", scan.Embedding{0}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.Match(known, tc.candidate); got != tc.want {
				t.Errorf("Match(%v) = %v; want %v", tc.candidate, got, tc.want)
			}
		})
	}

	// A candidate exactly on the threshold is not a match.
	onEdge, _ := NewMatcher(MetricEuclidean, 5)
	if onEdge.Match(scan.Embedding{0, 0}, scan.Embedding{3, 4}) {
		t.Error("distance equal to threshold matched")
	}
}

func TestNewMatcherUnknownMetric(t *testing.T) {
	if _, err := NewMatcher("manhattan", 1); err == nil {
		t.Error("expected error")
	}
	m, err := NewMatcher("", 0.45)
	if err != nil || m.metric != MetricEuclidean {
		t.Errorf("NewMatcher(\"\") = %v, %v; want euclidean default", m, err)
	}
}

func TestClientEncode(t *testing.T) {
	big := encodePNG(t, createTestImage(300, 100))

	var uploaded image.Config
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		uploaded, _, err = image.DecodeConfig(file)
		if err != nil {
			t.Errorf("uploaded file is not an image: %v", err)
		}
		_ = json.NewEncoder(w).Encode(FaceResponse{
			FacesCount: 2,
			Faces: []FaceDetection{
				{FaceIndex: 0, Embedding: []float32{0.1, 0.2}},
				{FaceIndex: 1, Embedding: []float32{0.3, 0.4}},
			},
			Model: "buffalo_l",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", 120, 5*time.Second)
	got, err := client.Encode(context.Background(), big)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(got) != 2 || got[0][0] != 0.1 || got[1][1] != 0.4 {
		t.Errorf("Encode() = %v", got)
	}
	if uploaded.Width != 120 || uploaded.Height != 40 {
		t.Errorf("uploaded %dx%d; want 120x40", uploaded.Width, uploaded.Height)
	}
}

func TestClientEncodeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0, time.Second)
	if _, err := client.Encode(context.Background(), []byte("raw")); err == nil {
		t.Error("expected error")
	}
}
