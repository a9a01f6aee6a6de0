package database

import (
	"fmt"
	"time"
)

// Status is the recognition outcome of a detection.
type Status string

const (
	StatusKnown   Status = "known"
	StatusUnknown Status = "unknown"
)

// UnknownPerson is the person_name sentinel for unrecognized detections.
const UnknownPerson = "Unknown"

// TimestampLayout is fixed width so lexical order in SQLite equals time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// DetectionEvent is one persisted person sighting.
type DetectionEvent struct {
	ID                int64     `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	PersonName        string    `json:"person_name"`
	Status            Status    `json:"status"`
	OriginalPhotoPath string    `json:"original_photo_path"`
	ZoomPhotoPath     string    `json:"zoom_photo_path"`
	CameraName        string    `json:"camera_name"`
}

// NewDetectionEvent derives the status from the identity so the two never disagree.
// An empty name means the person was not recognized.
func NewDetectionEvent(ts time.Time, name, camera, originalPath, zoomPath string) *DetectionEvent {
	status := StatusKnown
	if name == "" || name == UnknownPerson {
		name = UnknownPerson
		status = StatusUnknown
	}
	return &DetectionEvent{
		Timestamp:         ts,
		PersonName:        name,
		Status:            status,
		OriginalPhotoPath: originalPath,
		ZoomPhotoPath:     zoomPath,
		CameraName:        camera,
	}
}

// Validate enforces status = known <=> person_name != "Unknown".
func (e *DetectionEvent) Validate() error {
	switch e.Status {
	case StatusKnown:
		if e.PersonName == "" || e.PersonName == UnknownPerson {
			return fmt.Errorf("known detection must carry a name, got %q", e.PersonName)
		}
	case StatusUnknown:
		if e.PersonName != UnknownPerson {
			return fmt.Errorf("unknown detection must be named %q, got %q", UnknownPerson, e.PersonName)
		}
	default:
		return fmt.Errorf("invalid detection status %q", e.Status)
	}
	return nil
}

// Paths returns the non-empty artifact paths of the event.
func (e *DetectionEvent) Paths() []string {
	var paths []string
	for _, p := range []string{e.OriginalPhotoPath, e.ZoomPhotoPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// FormatTimestamp renders ts in the stored layout (UTC, microseconds).
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// ParseTimestamp reads a stored timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
