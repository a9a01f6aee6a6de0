package ws

import (
	"path/filepath"

	"watchpost/internal/database"
)

// EventMessage announces a newly stored detection.
type EventMessage struct {
	Type             string                   `json:"type"` // "detection"
	Event            *database.DetectionEvent `json:"event"`
	OriginalPhotoURL string                   `json:"original_photo_url,omitempty"`
	ZoomPhotoURL     string                   `json:"zoom_photo_url,omitempty"`
}

// NewEventMessage wraps ev with the URLs its artifacts are served under.
func NewEventMessage(ev *database.DetectionEvent) *EventMessage {
	return &EventMessage{
		Type:             "detection",
		Event:            ev,
		OriginalPhotoURL: UploadURL(ev.OriginalPhotoPath),
		ZoomPhotoURL:     UploadURL(ev.ZoomPhotoPath),
	}
}

// UploadURL maps a stored artifact path to its /uploads URL.
func UploadURL(path string) string {
	if path == "" {
		return ""
	}
	return "/uploads/" + filepath.Base(path)
}
