// Package stream serves the preview buffer to browsers.
package stream

import (
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

// FrameBuffer holds the most recent encoded frame.
type FrameBuffer interface {
	Latest() []byte
	Seq() uint64
}

// MJPEGHandler streams the buffer as multipart/x-mixed-replace.
type MJPEGHandler struct {
	buffer   FrameBuffer
	interval time.Duration
	clients  atomic.Int64
}

// NewMJPEGHandler pushes at most fps frames per second to each client.
func NewMJPEGHandler(buffer FrameBuffer, fps int) *MJPEGHandler {
	if fps <= 0 {
		fps = 10
	}
	return &MJPEGHandler{buffer: buffer, interval: time.Second / time.Duration(fps)}
}

// Clients returns the number of connected viewers.
func (h *MJPEGHandler) Clients() int {
	return int(h.clients.Load())
}

// ServeHTTP streams until the client goes away. A frame is only resent when
// the buffer has changed; the first frame is always sent, so a viewer sees the
// placeholder before capture starts.
func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.clients.Add(1)
	defer h.clients.Add(-1)
	log.Printf("[Stream] Client connected from %s", r.RemoteAddr)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var lastSeq uint64
	first := true
	for {
		if seq := h.buffer.Seq(); first || seq != lastSeq {
			if err := writePart(w, h.buffer.Latest()); err != nil {
				log.Printf("[Stream] Client %s dropped: %v", r.RemoteAddr, err)
				return
			}
			flusher.Flush()
			lastSeq, first = seq, false
		}

		select {
		case <-r.Context().Done():
			log.Printf("[Stream] Client disconnected from %s", r.RemoteAddr)
			return
		case <-ticker.C:
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// SnapshotHandler serves the latest frame as a single JPEG.
type SnapshotHandler struct {
	buffer FrameBuffer
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(buffer FrameBuffer) *SnapshotHandler {
	return &SnapshotHandler{buffer: buffer}
}

// ServeHTTP serves a single JPEG snapshot
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame := h.buffer.Latest()
	if len(frame) == 0 {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}
