package pipeline

import (
	"image"
	"time"

	"watchpost/internal/database"
)

// FrameData is one JPEG frame read from the stream.
type FrameData struct {
	Data      []byte    // JPEG frame data
	Seq       uint64    // Frame sequence number
	Timestamp time.Time // Capture timestamp
}

// Person is one perception result in original-frame coordinates.
type Person struct {
	BBox         image.Rectangle
	Confidence   float32
	PersonName   string
	Status       database.Status
	FaceLocation *image.Rectangle // nil when no face was found
}

// Known reports whether the person matched a gallery identity.
func (p Person) Known() bool {
	return p.Status == database.StatusKnown
}

func unknownPerson(box image.Rectangle, confidence float32) Person {
	return Person{
		BBox:       box,
		Confidence: confidence,
		PersonName: database.UnknownPerson,
		Status:     database.StatusUnknown,
	}
}

// CaptureStats contains frame capture statistics
type CaptureStats struct {
	FramesCaptured    uint64
	FramesSampled     uint64
	FramesProcessed   uint64
	FramesSkipped     uint64
	LastFrameTime     int64 // Unix timestamp
	ReconnectAttempts uint64
}
