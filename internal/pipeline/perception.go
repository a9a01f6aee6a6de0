package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"time"

	xdraw "golang.org/x/image/draw"

	"watchpost/internal/database"
	"watchpost/internal/observability"
)

const perceptionJPEGQuality = 90

// PerceptionConfig holds detector throughput and filtering settings.
type PerceptionConfig struct {
	ProcessWidth        int
	ConfidenceThreshold float32
}

// Perception turns a frame into identified person detections.
type Perception struct {
	detector PersonDetector
	faces    FaceEncoder
	matcher  IdentityMatcher
	cfg      PerceptionConfig
}

// NewPerception wires the model clients and the identity matcher.
func NewPerception(detector PersonDetector, faces FaceEncoder, matcher IdentityMatcher, cfg PerceptionConfig) *Perception {
	if cfg.ProcessWidth <= 0 {
		cfg.ProcessWidth = 640
	}
	return &Perception{detector: detector, faces: faces, matcher: matcher, cfg: cfg}
}

// Process detects persons in frame and identifies each one. Coordinates are
// in frame space. A detector failure is returned; identification failures
// degrade the single detection to unknown.
func (p *Perception) Process(ctx context.Context, frame image.Image) ([]Person, error) {
	small, scale := downscale(frame, p.cfg.ProcessWidth)
	data, err := encodeJPEG(small)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	boxes, err := p.detector.DetectPersons(ctx, data, p.cfg.ConfidenceThreshold)
	observability.PerceptionDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to detect persons: %w", err)
	}

	bounds := frame.Bounds()
	persons := make([]Person, 0, len(boxes))
	for _, b := range boxes {
		box := image.Rect(
			int(float64(b.X1)*scale), int(float64(b.Y1)*scale),
			int(float64(b.X2)*scale), int(float64(b.Y2)*scale),
		).Add(bounds.Min).Intersect(bounds)
		if box.Empty() {
			continue
		}

		start := time.Now()
		person := p.identify(ctx, frame, box, b.Confidence)
		observability.PerceptionDuration.WithLabelValues("identify").Observe(time.Since(start).Seconds())
		observability.PersonsDetected.WithLabelValues(string(person.Status)).Inc()
		persons = append(persons, person)
	}
	return persons, nil
}

// identify never fails: any error or panic yields an unknown person.
func (p *Perception) identify(ctx context.Context, frame image.Image, box image.Rectangle, confidence float32) (person Person) {
	person = unknownPerson(box, confidence)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Perception] Identification panicked for %v: %v", box, r)
			person = unknownPerson(box, confidence)
		}
	}()

	crop, err := encodeJPEG(cropImage(frame, box))
	if err != nil {
		log.Printf("[Perception] Crop encode failed for %v: %v", box, err)
		return person
	}

	faces, err := p.faces.Encode(ctx, crop)
	if err != nil {
		log.Printf("[Perception] Face encoding failed for %v: %v", box, err)
		return person
	}
	if len(faces) == 0 {
		return person
	}

	face := faces[0]
	loc := face.Box.Add(box.Min)
	person.FaceLocation = &loc

	if name, ok := p.matcher.Match(face.Embedding); ok {
		person.PersonName = name
		person.Status = database.StatusKnown
	}
	return person
}

// downscale resizes img to width when it is wider, and returns the factor
// mapping processed coordinates back to img.
func downscale(img image.Image, width int) (image.Image, float64) {
	b := img.Bounds()
	if b.Dx() <= width {
		return img, 1
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst, float64(b.Dx()) / float64(width)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func cropImage(img image.Image, r image.Rectangle) image.Image {
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Copy(dst, image.Point{}, img, r, xdraw.Src, nil)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: perceptionJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeJPEG(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}
