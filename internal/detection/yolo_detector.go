package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"
)

// PersonClass is the only detector class the pipeline asks for.
const PersonClass = "person"

// PersonBox is a person region in the pixel space of the submitted image.
type PersonBox struct {
	X1, Y1, X2, Y2 float32
	Confidence     float32
}

// YOLODetector talks to the YOLO inference service over HTTP.
type YOLODetector struct {
	endpoint    string
	client      *http.Client
	healthCheck time.Time
	mu          sync.RWMutex
}

// YOLODetection is a single detection in the service response.
type YOLODetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

// YOLOResult is the /detect response body.
type YOLOResult struct {
	Detections      []YOLODetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float32         `json:"inference_time_ms"`
	Device          string          `json:"device"`
}

// YOLOHealthResponse is the /health response body.
type YOLOHealthResponse struct {
	Status       string `json:"status"`
	Device       string `json:"device"`
	GPUAvailable bool   `json:"gpu_available"`
	ModelLoaded  bool   `json:"model_loaded"`
}

// YOLOConfig holds configuration for the detector
type YOLOConfig struct {
	ServiceEndpoint string
	Timeout         time.Duration
}

// NewYOLODetector creates a client for the YOLO service.
func NewYOLODetector(cfg YOLOConfig) *YOLODetector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &YOLODetector{
		endpoint: cfg.ServiceEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// IsHealthy checks if the YOLO service is available. Positive results are cached for 30s.
func (yd *YOLODetector) IsHealthy(ctx context.Context) bool {
	yd.mu.RLock()
	if time.Since(yd.healthCheck) < 30*time.Second {
		yd.mu.RUnlock()
		return true
	}
	yd.mu.RUnlock()

	health, err := yd.GetHealthInfo(ctx)
	if err != nil || !health.ModelLoaded {
		return false
	}

	yd.mu.Lock()
	yd.healthCheck = time.Now()
	yd.mu.Unlock()
	return true
}

// GetHealthInfo returns detailed health information
func (yd *YOLODetector) GetHealthInfo(ctx context.Context) (*YOLOHealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, yd.endpoint+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := yd.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check YOLO health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("YOLO health check returned status %d", resp.StatusCode)
	}

	var health YOLOHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	return &health, nil
}

// DetectPersons runs person-only detection on a JPEG image.
func (yd *YOLODetector) DetectPersons(ctx context.Context, imageData []byte, confThreshold float32) ([]PersonBox, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.3f", confThreshold)); err != nil {
		return nil, err
	}
	if err := w.WriteField("classes_filter", PersonClass); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, yd.endpoint+"/detect", &b)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := yd.client.Do(req)
	if err != nil {
		yd.mu.Lock()
		yd.healthCheck = time.Time{}
		yd.mu.Unlock()
		return nil, fmt.Errorf("YOLO request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("YOLO detection failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result YOLOResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}

	return personBoxes(result.Detections, confThreshold), nil
}

// personBoxes keeps well-formed person detections at or above the threshold.
func personBoxes(dets []YOLODetection, confThreshold float32) []PersonBox {
	boxes := make([]PersonBox, 0, len(dets))
	for _, det := range dets {
		if det.Class != PersonClass && !(det.Class == "" && det.ClassID == 0) {
			continue
		}
		if det.Confidence < confThreshold || len(det.BBox) < 4 {
			continue
		}
		boxes = append(boxes, PersonBox{
			X1:         det.BBox[0],
			Y1:         det.BBox[1],
			X2:         det.BBox[2],
			Y2:         det.BBox[3],
			Confidence: det.Confidence,
		})
	}
	return boxes
}
