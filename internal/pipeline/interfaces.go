package pipeline

import (
	"context"

	"watchpost/internal/database"
	"watchpost/internal/detection"
)

// PersonDetector finds person regions in a JPEG image.
type PersonDetector interface {
	DetectPersons(ctx context.Context, imageData []byte, confThreshold float32) ([]detection.PersonBox, error)
}

// FaceEncoder locates faces in a JPEG image and returns their embeddings.
type FaceEncoder interface {
	Encode(ctx context.Context, imageData []byte) ([]detection.Face, error)
}

// IdentityMatcher compares an embedding against the current gallery.
type IdentityMatcher interface {
	Match(embedding []float64) (string, bool)
}

// FrameSource produces JPEG frames until ctx is cancelled. onFrame runs on
// the capture goroutine and must not block.
type FrameSource interface {
	Run(ctx context.Context, onFrame func(*FrameData)) error
}

// EventStore persists admitted detection events.
type EventStore interface {
	Insert(ctx context.Context, ev *database.DetectionEvent) (int64, error)
}

// Notifier delivers an alert for a stored event to the operator.
type Notifier interface {
	NotifyEvent(ctx context.Context, ev *database.DetectionEvent, original, zoom []byte) error
}

// EventHandler receives every stored event after it is persisted.
type EventHandler interface {
	OnEvent(ctx context.Context, ev *database.DetectionEvent)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, ev *database.DetectionEvent)

func (f EventHandlerFunc) OnEvent(ctx context.Context, ev *database.DetectionEvent) { f(ctx, ev) }
