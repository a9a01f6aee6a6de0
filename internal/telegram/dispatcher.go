package telegram

import (
	"context"
	"fmt"
	"html"
	"log"

	"watchpost/internal/database"
)

const (
	originalTag = "[Original Photo]"
	zoomTag     = "[Zoom Photo]"
)

// Dispatcher delivers detection alerts to the chat and records the message
// ids an operator can reply to.
type Dispatcher struct {
	bot     *Bot
	pending *PendingTable
}

// NewDispatcher creates a dispatcher that registers alerts in pending.
func NewDispatcher(bot *Bot, pending *PendingTable) *Dispatcher {
	return &Dispatcher{bot: bot, pending: pending}
}

// NotifyEvent sends the original frame with the alert caption, registers the
// pending entry under its message id, then sends the zoomed crop and aliases
// that message to the same entry. It does nothing when the bot is not
// configured.
func (d *Dispatcher) NotifyEvent(ctx context.Context, ev *database.DetectionEvent, original, zoom []byte) error {
	if !d.bot.Configured() {
		return nil
	}

	originalID, err := d.bot.SendPhoto(ctx, original, AlertCaption(ev)+"\n\n"+originalTag)
	if err != nil {
		return fmt.Errorf("failed to send original photo: %w", err)
	}

	d.pending.Register(originalID, PendingFeedback{
		Timestamp:    ev.Timestamp,
		OriginalPath: ev.OriginalPhotoPath,
		ZoomPath:     ev.ZoomPhotoPath,
		Status:       ev.Status,
	})

	zoomID, err := d.bot.SendPhoto(ctx, zoom, zoomTag)
	if err != nil {
		return fmt.Errorf("failed to send zoom photo: %w", err)
	}
	d.pending.Alias(originalID, zoomID)

	log.Printf("[Telegram] Alert for %s sent as messages %d/%d", ev.PersonName, originalID, zoomID)
	return nil
}

// AlertCaption renders the alert text for ev.
func AlertCaption(ev *database.DetectionEvent) string {
	ts := ev.Timestamp.Local()
	zoneName, _ := ts.Zone()

	status := "Unknown"
	if ev.Status == database.StatusKnown {
		status = "Known"
	}

	caption := fmt.Sprintf(
		"🚨 <b>Person Detected</b>\n\n"+
			"📅 <b>Date:</b> %s %s\n"+
			"👤 <b>Status:</b> %s\n"+
			"📍 <b>Camera:</b> %s",
		ts.Format("2 Jan 2006, 15:04:05"), zoneName,
		status,
		html.EscapeString(ev.CameraName),
	)
	if ev.Status == database.StatusKnown {
		caption += fmt.Sprintf("\n🏷️ <b>Name:</b> %s", html.EscapeString(ev.PersonName))
	}
	caption += "\n\nReply to this photo with a name to add it to the known faces."
	return caption
}
