// Package artifact produces the annotated and zoomed images attached to every
// detection event and writes them to artifact storage.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/google/uuid"
)

const jpegQuality = 90

// Artifacts are the stored files of one event plus their encoded bytes.
type Artifacts struct {
	OriginalPath string
	ZoomPath     string
	Original     []byte
	Zoom         []byte
}

// Paths returns the stored file paths.
func (a *Artifacts) Paths() []string {
	return []string{a.OriginalPath, a.ZoomPath}
}

// BuilderConfig holds zoom settings.
type BuilderConfig struct {
	ZoomFactor float64
	ZoomWidth  int
	ZoomHeight int
}

// Builder renders and stores event artifacts.
type Builder struct {
	store Store
	cfg   BuilderConfig
	now   func() time.Time
}

// NewBuilder creates a builder writing to store.
func NewBuilder(store Store, cfg BuilderConfig) *Builder {
	if cfg.ZoomFactor <= 0 {
		cfg.ZoomFactor = 2
	}
	if cfg.ZoomWidth <= 0 || cfg.ZoomHeight <= 0 {
		cfg.ZoomWidth, cfg.ZoomHeight = 640, 480
	}
	return &Builder{store: store, cfg: cfg, now: time.Now}
}

// Build annotates frame, derives the zoom crop from the annotated copy and
// writes both. If the zoom write fails the original is removed again.
func (b *Builder) Build(ctx context.Context, frame image.Image, box image.Rectangle, label string, known bool) (*Artifacts, error) {
	annotated := Annotate(frame, box, label, known)
	zoomed := Zoom(annotated, box, b.cfg.ZoomFactor, b.cfg.ZoomWidth, b.cfg.ZoomHeight)

	original, err := EncodeJPEG(annotated)
	if err != nil {
		return nil, err
	}
	zoom, err := EncodeJPEG(zoomed)
	if err != nil {
		return nil, err
	}

	base := b.baseName()
	a := &Artifacts{Original: original, Zoom: zoom}

	a.OriginalPath, err = b.store.Save(ctx, base+"_original.jpg", original)
	if err != nil {
		return nil, err
	}
	a.ZoomPath, err = b.store.Save(ctx, base+"_zoom.jpg", zoom)
	if err != nil {
		_ = b.store.Remove(ctx, a.OriginalPath)
		return nil, err
	}
	return a, nil
}

// Remove deletes every path, continuing past failures. The first error is returned.
func (b *Builder) Remove(ctx context.Context, paths ...string) error {
	var first error
	for _, p := range paths {
		if err := b.store.Remove(ctx, p); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// baseName is unique per call even within the same nanosecond.
func (b *Builder) baseName() string {
	return fmt.Sprintf("det_%d_%s", b.now().UnixNano(), uuid.NewString()[:8])
}

// EncodeJPEG encodes img at artifact quality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
