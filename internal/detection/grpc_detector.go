package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// DetectPersonsMethod is the unary RPC served by the gRPC inference sidecar.
// Request and response are google.protobuf.Struct so no generated stubs are needed.
const DetectPersonsMethod = "/watchpost.detection.v1.DetectionService/DetectPersons"

// GRPCDetector provides gRPC-based person detection.
type GRPCDetector struct {
	endpoint   string
	conn       *grpc.ClientConn
	health     healthpb.HealthClient
	timeout    time.Duration
	healthy    bool
	healthMu   sync.RWMutex
	lastHealth time.Time
}

// GRPCDetectorConfig holds configuration for the gRPC detector
type GRPCDetectorConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// NewGRPCDetector creates a new gRPC-based detector. The connection is lazy.
func NewGRPCDetector(cfg GRPCDetectorConfig) (*GRPCDetector, error) {
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.NewClient(cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	log.Printf("[GRPCDetector] Using %s", cfg.Endpoint)
	return &GRPCDetector{
		endpoint: cfg.Endpoint,
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		timeout:  timeout,
	}, nil
}

// Close releases the connection.
func (gd *GRPCDetector) Close() error {
	return gd.conn.Close()
}

// IsHealthy checks the standard gRPC health service. Positive results are cached for 30s.
func (gd *GRPCDetector) IsHealthy(ctx context.Context) bool {
	gd.healthMu.RLock()
	if time.Since(gd.lastHealth) < 30*time.Second && gd.healthy {
		gd.healthMu.RUnlock()
		return true
	}
	gd.healthMu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := gd.health.Check(ctx, &healthpb.HealthCheckRequest{})
	healthy := err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	if err != nil {
		log.Printf("[GRPCDetector] Health check failed: %v", err)
	}

	gd.healthMu.Lock()
	gd.healthy = healthy
	gd.lastHealth = time.Now()
	gd.healthMu.Unlock()

	return healthy
}

// DetectPersons runs person-only detection on a JPEG image.
func (gd *GRPCDetector) DetectPersons(ctx context.Context, imageData []byte, confThreshold float32) ([]PersonBox, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"image":          base64.StdEncoding.EncodeToString(imageData),
		"conf_threshold": float64(confThreshold),
		"classes":        []interface{}{PersonClass},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, gd.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := gd.conn.Invoke(ctx, DetectPersonsMethod, req, resp); err != nil {
		return nil, fmt.Errorf("detect RPC failed: %w", err)
	}

	return personBoxes(decodeDetections(resp), confThreshold), nil
}

// decodeDetections converts the Struct response into the HTTP result shape.
func decodeDetections(resp *structpb.Struct) []YOLODetection {
	list := resp.GetFields()["detections"].GetListValue().GetValues()
	dets := make([]YOLODetection, 0, len(list))
	for _, v := range list {
		fields := v.GetStructValue().GetFields()
		det := YOLODetection{
			Class:      fields["class"].GetStringValue(),
			ClassID:    int(fields["class_id"].GetNumberValue()),
			Confidence: float32(fields["confidence"].GetNumberValue()),
		}
		for _, c := range fields["bbox"].GetListValue().GetValues() {
			det.BBox = append(det.BBox, float32(c.GetNumberValue()))
		}
		dets = append(dets, det)
	}
	return dets
}
