// Package publish forwards stored detection events to NATS JetStream.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"watchpost/internal/config"
	"watchpost/internal/database"
)

const publishTimeout = 5 * time.Second

// streamPublisher is the part of jetstream.JetStream the publisher uses.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventMessage is the JSON body of a published event.
type EventMessage struct {
	ID                int64  `json:"id"`
	Timestamp         string `json:"timestamp"`
	PersonName        string `json:"person_name"`
	Status            string `json:"status"`
	CameraName        string `json:"camera_name"`
	OriginalPhotoPath string `json:"original_photo_path"`
	ZoomPhotoPath     string `json:"zoom_photo_path"`
}

// Publisher queues events and publishes them from its own goroutine so a
// slow or unreachable server never holds up the alert path.
type Publisher struct {
	nc      *nats.Conn
	js      streamPublisher
	stream  string
	subject string
	queue   chan *database.DetectionEvent
}

// Connect dials NATS. The connection keeps retrying in the background, so a
// server that is down at start-up does not fail the daemon.
func Connect(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("watchpost"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[NATS] Disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Printf("[NATS] Reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	p := newPublisher(js, cfg.Stream, cfg.Subject)
	p.nc = nc
	return p, nil
}

func newPublisher(js streamPublisher, stream, subject string) *Publisher {
	return &Publisher{
		js:      js,
		stream:  stream,
		subject: subject,
		queue:   make(chan *database.DetectionEvent, 64),
	}
}

// EnsureStream creates or updates the events stream.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	js, ok := p.js.(jetstream.JetStream)
	if !ok {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := js.CreateOrUpdateStream(opCtx, jetstream.StreamConfig{
		Name:        p.stream,
		Subjects:    []string{p.subject + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		Description: "Watchpost detection events",
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", p.stream, err)
	}
	log.Printf("[NATS] Stream %s ready on %s.>", p.stream, p.subject)
	return nil
}

// OnEvent queues ev for publication. Events are dropped when the queue is full.
func (p *Publisher) OnEvent(_ context.Context, ev *database.DetectionEvent) {
	select {
	case p.queue <- ev:
	default:
		log.Printf("[NATS] Queue full, dropping event %d", ev.ID)
	}
}

// Run publishes queued events until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.queue:
			if err := p.publish(ctx, ev); err != nil {
				log.Printf("[NATS] %v", err)
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev *database.DetectionEvent) error {
	payload, err := json.Marshal(EventMessage{
		ID:                ev.ID,
		Timestamp:         database.FormatTimestamp(ev.Timestamp),
		PersonName:        ev.PersonName,
		Status:            string(ev.Status),
		CameraName:        ev.CameraName,
		OriginalPhotoPath: ev.OriginalPhotoPath,
		ZoomPhotoPath:     ev.ZoomPhotoPath,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event %d: %w", ev.ID, err)
	}

	opCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	subject := Subject(p.subject, ev.CameraName)
	if _, err := p.js.Publish(opCtx, subject, payload); err != nil {
		return fmt.Errorf("failed to publish event %d to %s: %w", ev.ID, subject, err)
	}
	return nil
}

// Ping reports whether the connection is up.
func (p *Publisher) Ping() error {
	if p.nc == nil || !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// Subject returns the subject events from camera are published on.
func Subject(base, camera string) string {
	return base + "." + Slug(camera)
}

// Slug lowercases s and replaces every run of characters that are not letters
// or digits with a single underscore.
func Slug(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "camera"
	}
	return b.String()
}
