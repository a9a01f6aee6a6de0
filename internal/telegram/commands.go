package telegram

import (
	"context"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"time"

	"watchpost/internal/database"
)

// EventLister reads recent detection events.
type EventLister interface {
	List(ctx context.Context, limit int, status database.Status) ([]*database.DetectionEvent, error)
}

// Sizer reports a count, such as the number of known identities.
type Sizer interface {
	Len() int
}

// FrameSource returns the latest preview frame.
type FrameSource interface {
	Latest() []byte
}

// CaptureStatus summarizes the capture loop for /status.
type CaptureStatus struct {
	FramesCaptured  uint64
	FramesProcessed uint64
	Reconnects      uint64
	LastFrame       time.Time // zero before the first frame
}

// Commands answers operator slash commands.
type Commands struct {
	bot       *Bot
	events    EventLister
	pending   *PendingTable
	gallery   Sizer
	preview   FrameSource
	capture   func() CaptureStatus
	camera    string
	startTime time.Time
	now       func() time.Time
}

// NewCommands creates a command handler. preview may be nil, which disables
// /snapshot.
func NewCommands(bot *Bot, events EventLister, pending *PendingTable, gallery Sizer, preview FrameSource, camera string) *Commands {
	return &Commands{
		bot:       bot,
		events:    events,
		pending:   pending,
		gallery:   gallery,
		preview:   preview,
		camera:    camera,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// SetCaptureStatus makes /status report the capture loop through fn.
func (c *Commands) SetCaptureStatus(fn func() CaptureStatus) {
	c.capture = fn
}

// Handle runs cmd and sends the answer to the chat.
func (c *Commands) Handle(ctx context.Context, cmd Command) {
	log.Printf("[Telegram] Processing command: %s", cmd.Name)

	var response string
	switch cmd.Name {
	case "/start":
		response = c.handleStart()
	case "/help":
		response = c.handleHelp()
	case "/status":
		response = c.handleStatus()
	case "/events":
		response = c.handleEvents(ctx, cmd.Args)
	case "/snapshot":
		response = c.handleSnapshot(ctx)
	default:
		response = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", html.EscapeString(cmd.Name))
	}

	if response == "" {
		return
	}
	if err := c.bot.SendReply(ctx, cmd.MessageID, response); err != nil {
		log.Printf("[Telegram] Failed to send reply: %v", err)
	}
}

func (c *Commands) handleStart() string {
	return "🤖 <b>Welcome to Watchpost!</b>\n\n" +
		"I send an alert whenever someone appears on the camera.\n" +
		"Reply to an alert photo with a name and I will recognize that person next time.\n\n" +
		"Use /help to see available commands."
}

func (c *Commands) handleHelp() string {
	return "📋 <b>Available Commands</b>\n\n" +
		"/status - System status\n" +
		"/events [limit] - Show recent detections\n" +
		"/snapshot - Current camera frame\n" +
		"/help - Show this help\n\n" +
		"<b>Teaching</b>\n" +
		"Reply to an alert with a name to label the person.\n" +
		"Send a photo with the name as caption to add a face directly."
}

func (c *Commands) handleStatus() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(
		"📊 <b>System Status</b>\n\n"+
			"📹 Camera: %s\n"+
			"🧑 Known faces: %d\n"+
			"⏳ Pending alerts: %d\n"+
			"⏱️ Uptime: %s",
		html.EscapeString(c.camera),
		c.gallery.Len(),
		c.pending.Len(),
		formatDuration(c.now().Sub(c.startTime)),
	))

	if c.capture != nil {
		st := c.capture()
		lastFrame := "none yet"
		if !st.LastFrame.IsZero() {
			lastFrame = fmt.Sprintf("%s ago", c.now().Sub(st.LastFrame).Truncate(time.Second))
		}
		sb.WriteString(fmt.Sprintf(
			"\n\n🎞️ Frames: %d captured, %d processed\n"+
				"🖼️ Last frame: %s\n"+
				"🔁 Reconnects: %d",
			st.FramesCaptured, st.FramesProcessed, lastFrame, st.Reconnects,
		))
	}
	return sb.String()
}

func (c *Commands) handleEvents(ctx context.Context, args []string) string {
	limit := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}

	events, err := c.events.List(ctx, limit, "")
	if err != nil {
		return fmt.Sprintf("❌ Failed to load events: %v", html.EscapeString(err.Error()))
	}
	if len(events) == 0 {
		return "📋 <b>Recent Events</b>\n\nNo detections recorded."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 <b>Recent Events</b> (last %d)\n\n", len(events)))
	for i, ev := range events {
		ts := ev.Timestamp.Local()
		zoneName, _ := ts.Zone()
		sb.WriteString(fmt.Sprintf("%d. %s %s\n   👤 %s (%s)\n",
			i+1, ts.Format("Jan 2, 03:04 PM"), zoneName,
			html.EscapeString(ev.PersonName), ev.Status))
	}
	return sb.String()
}

func (c *Commands) handleSnapshot(ctx context.Context) string {
	if c.preview == nil {
		return "⚠️ Snapshots are not available."
	}

	now := time.Now()
	zoneName, _ := now.Zone()
	caption := fmt.Sprintf("📸 <b>Snapshot</b>\n\n📹 Camera: %s\n🕐 Time: %s %s",
		html.EscapeString(c.camera), now.Format("Jan 2, 2006, 03:04:05 PM"), zoneName)

	if _, err := c.bot.SendPhoto(ctx, c.preview.Latest(), caption); err != nil {
		return fmt.Sprintf("❌ Failed to send snapshot: %v", html.EscapeString(err.Error()))
	}
	return ""
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
