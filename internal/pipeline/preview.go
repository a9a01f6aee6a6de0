package pipeline

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
	"time"
)

// PreviewBuffer holds the most recent captured frame for live viewers. Writes
// replace the slot and never wait on readers.
type PreviewBuffer struct {
	mu          sync.RWMutex
	frame       []byte
	seq         uint64
	updated     time.Time
	placeholder []byte
}

// NewPreviewBuffer creates an empty buffer whose placeholder is a black
// width x height JPEG.
func NewPreviewBuffer(width, height int) *PreviewBuffer {
	return &PreviewBuffer{placeholder: blankJPEG(width, height)}
}

// Set stores frame as the latest. The caller must not modify it afterwards.
func (b *PreviewBuffer) Set(frame []byte) {
	b.mu.Lock()
	b.frame = frame
	b.seq++
	b.updated = time.Now()
	b.mu.Unlock()
}

// Latest returns the newest frame, or the placeholder before the first capture.
func (b *PreviewBuffer) Latest() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.frame == nil {
		return b.placeholder
	}
	return b.frame
}

// Seq returns the number of frames stored so far. Stream handlers use it to
// skip resending an unchanged frame.
func (b *PreviewBuffer) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Updated returns when the last frame was stored, zero before the first.
func (b *PreviewBuffer) Updated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

func blankJPEG(width, height int) []byte {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 50})
	return buf.Bytes()
}
