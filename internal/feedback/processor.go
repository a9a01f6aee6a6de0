// Package feedback applies operator labels to the identity gallery and to the
// detection events they refer to.
package feedback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"image"
	"image/jpeg"
	"log"
	"os"
	"strings"
	"time"

	"watchpost/internal/artifact"
	"watchpost/internal/database"
	"watchpost/internal/detection"
	"watchpost/internal/gallery"
	"watchpost/internal/observability"
	"watchpost/internal/telegram"
)

var (
	// ErrNoFace means the labeled image contains no detectable face.
	ErrNoFace = errors.New("no face detected in photo")
	// ErrMissingName means the operator sent a label without a name.
	ErrMissingName = errors.New("missing person name")
	// ErrInvalidName means the name cannot be used as a gallery entry.
	ErrInvalidName = gallery.ErrInvalidName
	// ErrNotPending means the reply does not answer an open alert.
	ErrNotPending = errors.New("no pending alert for message")
)

// Replier talks back to the operator chat.
type Replier interface {
	SendReply(ctx context.Context, replyTo int64, text string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// PendingStore resolves correlation handles.
type PendingStore interface {
	Lookup(handle int64) (telegram.PendingFeedback, bool)
	Remove(handle int64)
}

// FaceEncoder finds faces in an image.
type FaceEncoder interface {
	Encode(ctx context.Context, imageData []byte) ([]detection.Face, error)
}

// Gallery stores a face image for a name and reloads recognition.
type Gallery interface {
	Add(ctx context.Context, name string, imageData []byte) error
}

// EventCorrector relabels a stored unknown event.
type EventCorrector interface {
	UpdateIdentity(ctx context.Context, ts time.Time, name string) (int64, error)
}

// Processor handles operator labels. It satisfies telegram.FeedbackHandler.
type Processor struct {
	replier  Replier
	pending  PendingStore
	faces    FaceEncoder
	gallery  Gallery
	events   EventCorrector
	readFile func(string) ([]byte, error)
}

// NewProcessor wires a feedback processor.
func NewProcessor(replier Replier, pending PendingStore, faces FaceEncoder, g Gallery, events EventCorrector) *Processor {
	return &Processor{
		replier:  replier,
		pending:  pending,
		faces:    faces,
		gallery:  g,
		events:   events,
		readFile: os.ReadFile,
	}
}

// LabelReply teaches name from the zoom artifact of the alert behind handle.
// The stored event is corrected only when it was recorded as unknown. The
// pending entry is removed only on success so the operator can retry.
func (p *Processor) LabelReply(ctx context.Context, handle int64, name string) error {
	fb, ok := p.pending.Lookup(handle)
	if !ok {
		return ErrNotPending
	}

	name, err := labelName(name)
	if err != nil {
		return err
	}

	data, err := p.readFile(fb.ZoomPath)
	if err != nil {
		return fmt.Errorf("failed to read zoom artifact: %w", err)
	}
	if err := p.LabelPhoto(ctx, name, data); err != nil {
		return err
	}

	if fb.Status == database.StatusUnknown {
		n, err := p.events.UpdateIdentity(ctx, fb.Timestamp, name)
		if err != nil {
			return fmt.Errorf("failed to correct detection: %w", err)
		}
		log.Printf("[Feedback] Relabeled %d detection(s) at %s as %s", n, database.FormatTimestamp(fb.Timestamp), name)
	}

	p.pending.Remove(handle)
	return nil
}

// LabelPhoto crops the first face in data and stores it in the gallery as name.
func (p *Processor) LabelPhoto(ctx context.Context, name string, data []byte) error {
	name, err := labelName(name)
	if err != nil {
		return err
	}

	crop, err := p.firstFace(ctx, data)
	if err != nil {
		return err
	}
	if err := p.gallery.Add(ctx, name, crop); err != nil {
		return fmt.Errorf("failed to add %q to gallery: %w", name, err)
	}

	observability.FeedbackApplied.Inc()
	log.Printf("[Feedback] Added %s to known faces", name)
	return nil
}

// labelName trims name and rejects the sentinel used for unrecognized people.
func labelName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", ErrMissingName
	case strings.EqualFold(name, database.UnknownPerson):
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return name, nil
}

func (p *Processor) firstFace(ctx context.Context, data []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode photo: %w", err)
	}

	faces, err := p.faces.Encode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to detect faces: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFace
	}

	box := faces[0].Box.Intersect(img.Bounds())
	if box.Empty() {
		return nil, ErrNoFace
	}

	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return nil, fmt.Errorf("unsupported image type %T", img)
	}
	return artifact.EncodeJPEG(sub.SubImage(box))
}

// HandleReply applies a text reply and reports the outcome to the operator.
// Replies that answer no open alert are ignored.
func (p *Processor) HandleReply(ctx context.Context, ev telegram.TextReply) {
	err := p.LabelReply(ctx, ev.ReplyToMessageID, ev.Text)
	if errors.Is(err, ErrNotPending) {
		return
	}
	p.report(ctx, ev.MessageID, strings.TrimSpace(ev.Text), err)
}

// HandlePhoto adds a captioned photo to the gallery.
func (p *Processor) HandlePhoto(ctx context.Context, ev telegram.PhotoSubmitted) {
	name, err := labelName(ev.Caption)
	if err != nil {
		p.report(ctx, ev.MessageID, strings.TrimSpace(ev.Caption), err)
		return
	}

	data, err := p.replier.DownloadFile(ctx, ev.FileID)
	if err != nil {
		p.report(ctx, ev.MessageID, name, fmt.Errorf("failed to download photo: %w", err))
		return
	}
	p.report(ctx, ev.MessageID, name, p.LabelPhoto(ctx, name, data))
}

func (p *Processor) report(ctx context.Context, replyTo int64, name string, err error) {
	var text string
	switch {
	case err == nil:
		text = fmt.Sprintf("✅ %s added to known faces!", html.EscapeString(name))
	case errors.Is(err, ErrMissingName):
		text = "❌ Please include the person's name in the caption."
	case errors.Is(err, ErrNoFace):
		text = "❌ No face detected in the photo."
	case errors.Is(err, ErrInvalidName):
		text = fmt.Sprintf("❌ &quot;%s&quot; cannot be used as a name.", html.EscapeString(name))
	default:
		text = fmt.Sprintf("❌ Failed to process photo: %s", html.EscapeString(err.Error()))
	}

	if err != nil {
		observability.FeedbackFailed.Inc()
		log.Printf("[Feedback] Label %q failed: %v", name, err)
	}
	if sendErr := p.replier.SendReply(ctx, replyTo, text); sendErr != nil {
		log.Printf("[Feedback] Failed to send reply: %v", sendErr)
	}
}
