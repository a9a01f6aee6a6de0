package pipeline

import (
	"context"
	"fmt"
	"image"
	"log"
	"time"

	"watchpost/internal/artifact"
	"watchpost/internal/database"
	"watchpost/internal/observability"
)

// ArtifactBuilder renders and stores the images of one event.
type ArtifactBuilder interface {
	Build(ctx context.Context, frame image.Image, box image.Rectangle, label string, known bool) (*artifact.Artifacts, error)
	Remove(ctx context.Context, paths ...string) error
}

// Alerter turns an admitted detection into a stored, delivered event.
type Alerter struct {
	builder  ArtifactBuilder
	store    EventStore
	notifier Notifier
	bus      *EventBus
	camera   string
}

// NewAlerter wires the alert path. notifier and bus may be nil.
func NewAlerter(builder ArtifactBuilder, store EventStore, notifier Notifier, bus *EventBus, camera string) *Alerter {
	return &Alerter{builder: builder, store: store, notifier: notifier, bus: bus, camera: camera}
}

// Handle writes artifacts, stores the event, then notifies and publishes it.
// Delivery failures are logged; only artifact or store failures are returned.
func (a *Alerter) Handle(ctx context.Context, frame image.Image, p Person, ts time.Time) (*database.DetectionEvent, error) {
	arts, err := a.builder.Build(ctx, frame, p.BBox, artifact.Label(p.PersonName, p.Confidence), p.Known())
	if err != nil {
		return nil, fmt.Errorf("failed to build artifacts: %w", err)
	}

	ev := database.NewDetectionEvent(ts, p.PersonName, a.camera, arts.OriginalPath, arts.ZoomPath)
	if _, err := a.store.Insert(ctx, ev); err != nil {
		if rmErr := a.builder.Remove(ctx, arts.Paths()...); rmErr != nil {
			log.Printf("[Alerts] Failed to remove orphaned artifacts: %v", rmErr)
		}
		return nil, fmt.Errorf("failed to store event: %w", err)
	}
	log.Printf("[Alerts] Stored event %d: %s (%s) at %v", ev.ID, ev.PersonName, ev.Status, p.BBox)

	if a.notifier != nil {
		if err := a.notifier.NotifyEvent(ctx, ev, arts.Original, arts.Zoom); err != nil {
			observability.NotificationsFailed.Inc()
			log.Printf("[Alerts] Notification for event %d failed: %v", ev.ID, err)
		} else {
			observability.NotificationsSent.Inc()
		}
	}

	if a.bus != nil {
		a.bus.Publish(ctx, ev)
	}
	return ev, nil
}
