package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"
)

// Face is one face found by the encoding service. Embedding is empty for
// detect-only calls.
type Face struct {
	Box        image.Rectangle
	Confidence float32
	Embedding  []float64
}

// FaceRecognizer is a client for the face detection/embedding service.
type FaceRecognizer struct {
	endpoint   string
	client     *http.Client
	mu         sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// FaceRecognizerConfig holds configuration for the face service
type FaceRecognizerConfig struct {
	ServiceEndpoint string
	Timeout         time.Duration
}

type faceResult struct {
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
	Confidence float32   `json:"confidence"`
	Embedding  []float64 `json:"embedding,omitempty"`
}

type facesResponse struct {
	Faces           []faceResult `json:"faces"`
	Count           int          `json:"count"`
	InferenceTimeMs float32      `json:"inference_time_ms"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Device      string `json:"device"`
	ModelLoaded bool   `json:"model_loaded"`
}

// NewFaceRecognizer creates a new face service client
func NewFaceRecognizer(cfg FaceRecognizerConfig) *FaceRecognizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FaceRecognizer{
		endpoint: cfg.ServiceEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// IsHealthy returns the result of the last health check
func (fr *FaceRecognizer) IsHealthy() bool {
	fr.mu.RLock()
	defer fr.mu.RUnlock()
	return fr.healthy
}

// CheckHealth checks if the face service is available
func (fr *FaceRecognizer) CheckHealth(ctx context.Context) error {
	healthy := false
	defer func() {
		fr.mu.Lock()
		fr.healthy = healthy
		fr.lastHealth = time.Now()
		fr.mu.Unlock()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fr.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := fr.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	if health.Status != "healthy" || !health.ModelLoaded {
		return fmt.Errorf("service unhealthy: status=%s, model_loaded=%v", health.Status, health.ModelLoaded)
	}
	healthy = true
	return nil
}

// DetectFaces locates faces without computing embeddings.
func (fr *FaceRecognizer) DetectFaces(ctx context.Context, imageData []byte) ([]Face, error) {
	return fr.faces(ctx, "/detect", imageData)
}

// Encode locates faces and computes one embedding per face.
func (fr *FaceRecognizer) Encode(ctx context.Context, imageData []byte) ([]Face, error) {
	faces, err := fr.faces(ctx, "/encode", imageData)
	if err != nil {
		return nil, err
	}
	for i, f := range faces {
		if len(f.Embedding) == 0 {
			return nil, fmt.Errorf("face %d returned without embedding", i)
		}
	}
	return faces, nil
}

func (fr *FaceRecognizer) faces(ctx context.Context, path string, imageData []byte) ([]Face, error) {
	body, err := fr.sendImageRequest(ctx, fr.endpoint+path, imageData)
	if err != nil {
		return nil, err
	}

	var res facesResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	faces := make([]Face, 0, len(res.Faces))
	for _, f := range res.Faces {
		if len(f.BBox) < 4 {
			continue
		}
		faces = append(faces, Face{
			Box:        image.Rect(int(f.BBox[0]), int(f.BBox[1]), int(f.BBox[2]), int(f.BBox[3])),
			Confidence: f.Confidence,
			Embedding:  f.Embedding,
		})
	}
	return faces, nil
}

// sendImageRequest posts an image as multipart "file" and returns the body.
func (fr *FaceRecognizer) sendImageRequest(ctx context.Context, url string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="face.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := fr.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
