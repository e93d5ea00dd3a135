// Package faces detects faces and compares their embeddings.
package faces

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/facescan/internal/scan"
)

const defaultEmbeddingURL = "http://localhost:8000"

// FaceDetection is one face found by the embedding server.
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse is the body of /embed/face.
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Client encodes faces through the embedding server. Images are downscaled
// before upload.
type Client struct {
	baseURL      string
	maxDimension int
	client       *http.Client
}

// NewClient creates a client. A zero maxDimension disables downscaling.
func NewClient(baseURL string, maxDimension int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		maxDimension: maxDimension,
		client:       &http.Client{Timeout: timeout},
	}
}

// Encode returns one embedding per detected face, in detection order.
func (c *Client) Encode(ctx context.Context, image []byte) ([]scan.Embedding, error) {
	if c.maxDimension > 0 {
		scaled, err := Downscale(image, c.maxDimension)
		if err != nil {
			return nil, err
		}
		image = scaled
	}

	resp, err := c.detect(ctx, image)
	if err != nil {
		return nil, err
	}

	out := make([]scan.Embedding, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		out = append(out, scan.Embedding(f.Embedding))
	}
	log.Debug().Int("faces", len(out)).Str("model", resp.Model).Msg("Detected faces")
	return out, nil
}

func (c *Client) detect(ctx context.Context, image []byte) (*FaceResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", http.DetectContentType(image))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/face", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &faceResp, nil
}

// Health checks that the embedding server answers.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding server returned status %d", resp.StatusCode)
	}
	return nil
}
