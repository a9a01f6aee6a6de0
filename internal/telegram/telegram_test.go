package telegram

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"watchpost/internal/database"
)

func testEvent(status database.Status, name string) *database.DetectionEvent {
	ev := database.NewDetectionEvent(
		time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC),
		name, "Front Door", "uploads/det_1_original.jpg", "uploads/det_1_zoom.jpg",
	)
	if ev.Status != status {
		panic("inconsistent test event")
	}
	return ev
}

func TestDispatcherNotifyEvent(t *testing.T) {
	tests := []struct {
		name       string
		event      *database.DetectionEvent
		wantStatus string
		wantName   bool
	}{
		{"unknown person", testEvent(database.StatusUnknown, ""), "Unknown", false},
		{"known person", testEvent(database.StatusKnown, "Alice"), "Known", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			api.idStep = 3
			pending := NewPendingTable(time.Hour)
			d := NewDispatcher(api.bot("42"), pending)

			original, zoom := []byte("original-jpeg"), []byte("zoom-jpeg")
			if err := d.NotifyEvent(context.Background(), tt.event, original, zoom); err != nil {
				t.Fatalf("NotifyEvent: %v", err)
			}

			photos := api.sentPhotos()
			if len(photos) != 2 {
				t.Fatalf("sent %d photos, want 2", len(photos))
			}
			if !bytes.Equal(photos[0].Data, original) || !bytes.Equal(photos[1].Data, zoom) {
				t.Error("original must be sent before zoom")
			}
			if photos[0].ChatID != "42" {
				t.Errorf("chat_id = %q", photos[0].ChatID)
			}
			caption := photos[0].Caption
			for _, want := range []string{"Front Door", "Status:</b> " + tt.wantStatus, "Reply to this photo", "[Original Photo]"} {
				if !strings.Contains(caption, want) {
					t.Errorf("caption missing %q:\n%s", want, caption)
				}
			}
			if got := strings.Contains(caption, "Alice"); got != tt.wantName {
				t.Errorf("caption names person = %v, want %v", got, tt.wantName)
			}
			if photos[1].Caption != "[Zoom Photo]" {
				t.Errorf("zoom caption = %q", photos[1].Caption)
			}

			for _, handle := range []int64{photos[0].ID, photos[1].ID} {
				fb, ok := pending.Lookup(handle)
				if !ok {
					t.Fatalf("handle %d not pending", handle)
				}
				if !fb.Timestamp.Equal(tt.event.Timestamp) || fb.ZoomPath != tt.event.ZoomPhotoPath || fb.Status != tt.event.Status {
					t.Errorf("pending = %+v", fb)
				}
			}
			if pending.Len() != 1 {
				t.Errorf("pending entries = %d, want 1", pending.Len())
			}
		})
	}
}

func TestDispatcherUnconfiguredIsNoop(t *testing.T) {
	pending := NewPendingTable(time.Hour)
	d := NewDispatcher(NewBot(Config{APIBase: "http://127.0.0.1:1"}), pending)

	if err := d.NotifyEvent(context.Background(), testEvent(database.StatusUnknown, ""), []byte("a"), []byte("b")); err != nil {
		t.Fatalf("NotifyEvent = %v, want nil", err)
	}
	if pending.Len() != 0 {
		t.Errorf("pending entries = %d, want 0", pending.Len())
	}
}

func TestDispatcherSendFailures(t *testing.T) {
	t.Run("original fails", func(t *testing.T) {
		api := newFakeAPI(t)
		api.failPhoto[1] = true
		pending := NewPendingTable(time.Hour)

		err := NewDispatcher(api.bot("42"), pending).NotifyEvent(context.Background(), testEvent(database.StatusUnknown, ""), []byte("a"), []byte("b"))
		if err == nil {
			t.Fatal("expected error")
		}
		if pending.Len() != 0 {
			t.Errorf("pending entries = %d, want 0", pending.Len())
		}
		if len(api.sentPhotos()) != 1 {
			t.Error("zoom must not be sent after the original failed")
		}
	})

	t.Run("zoom fails", func(t *testing.T) {
		api := newFakeAPI(t)
		api.failPhoto[2] = true
		pending := NewPendingTable(time.Hour)

		err := NewDispatcher(api.bot("42"), pending).NotifyEvent(context.Background(), testEvent(database.StatusUnknown, ""), []byte("a"), []byte("b"))
		if err == nil {
			t.Fatal("expected error")
		}
		if _, ok := pending.Lookup(api.sentPhotos()[0].ID); !ok {
			t.Error("original message should stay answerable")
		}
	})
}

func TestAlertCaptionEscapesHTML(t *testing.T) {
	ev := testEvent(database.StatusKnown, "<b>Bob</b>")
	ev.CameraName = "Garage & Yard"
	caption := AlertCaption(ev)
	if strings.Contains(caption, "<b>Bob</b>") || !strings.Contains(caption, "&lt;b&gt;Bob&lt;/b&gt;") {
		t.Errorf("name not escaped:\n%s", caption)
	}
	if !strings.Contains(caption, "Garage &amp; Yard") {
		t.Errorf("camera not escaped:\n%s", caption)
	}
}

func TestParseUpdate(t *testing.T) {
	chat := &TelegramChat{ID: 42, Type: "private"}
	tests := []struct {
		name   string
		update Update
		want   InboundEvent
	}{
		{
			name: "photo with caption uses largest size",
			update: Update{UpdateID: 1, Message: &TelegramMessage{MessageID: 5, Chat: chat, Caption: "Alice",
				Photo: []PhotoSize{{FileID: "small"}, {FileID: "large"}}}},
			want: PhotoSubmitted{MessageID: 5, FileID: "large", Caption: "Alice"},
		},
		{
			name: "reply to alert",
			update: Update{UpdateID: 2, Message: &TelegramMessage{MessageID: 6, Chat: chat, Text: "  Alice ",
				ReplyToMessage: &TelegramMessage{MessageID: 100}}},
			want: TextReply{MessageID: 6, ReplyToMessageID: 100, Text: "Alice"},
		},
		{
			name:   "command with bot suffix",
			update: Update{UpdateID: 3, Message: &TelegramMessage{MessageID: 7, Chat: chat, Text: "/Events@watchpost_bot 3"}},
			want:   Command{MessageID: 7, Name: "/events", Args: []string{"3"}},
		},
		{
			name:   "plain text is ignored",
			update: Update{UpdateID: 4, Message: &TelegramMessage{MessageID: 8, Chat: chat, Text: "hello"}},
		},
		{
			name: "unauthorized chat is ignored",
			update: Update{UpdateID: 5, Message: &TelegramMessage{MessageID: 9, Chat: &TelegramChat{ID: 7}, Text: "Mallory",
				ReplyToMessage: &TelegramMessage{MessageID: 100}}},
		},
		{
			name:   "update without message",
			update: Update{UpdateID: 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseUpdate(tt.update, "42")
			if tt.want == nil {
				if ok {
					t.Fatalf("got %#v, want nothing", got)
				}
				return
			}
			if !ok {
				t.Fatal("update dropped")
			}
			if cmd, isCmd := tt.want.(Command); isCmd {
				gotCmd, _ := got.(Command)
				if gotCmd.Name != cmd.Name || gotCmd.MessageID != cmd.MessageID || strings.Join(gotCmd.Args, " ") != strings.Join(cmd.Args, " ") {
					t.Errorf("got %#v, want %#v", got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

type recordingFeedback struct {
	mu      sync.Mutex
	events  []InboundEvent
	active  int
	overlap bool
}

func (r *recordingFeedback) record(ev InboundEvent) {
	r.mu.Lock()
	r.active++
	if r.active > 1 {
		r.overlap = true
	}
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.active--
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingFeedback) HandlePhoto(_ context.Context, ev PhotoSubmitted) { r.record(ev) }
func (r *recordingFeedback) HandleReply(_ context.Context, ev TextReply)      { r.record(ev) }

func (r *recordingFeedback) snapshot() ([]InboundEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InboundEvent(nil), r.events...), r.overlap
}

func TestListenerHandlesUpdatesInOrderOnce(t *testing.T) {
	api := newFakeAPI(t)
	chat := &TelegramChat{ID: 42}
	api.queue(
		Update{UpdateID: 10, Message: &TelegramMessage{MessageID: 1, Chat: chat, Text: "Alice", ReplyToMessage: &TelegramMessage{MessageID: 100}}},
		Update{UpdateID: 11, Message: &TelegramMessage{MessageID: 2, Chat: chat, Caption: "Bob", Photo: []PhotoSize{{FileID: "f1"}}}},
		Update{UpdateID: 12, Message: &TelegramMessage{MessageID: 3, Chat: chat, Text: "Carol", ReplyToMessage: &TelegramMessage{MessageID: 101}}},
	)

	fb := &recordingFeedback{}
	l := NewListener(api.bot("42"), fb, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return api.pollCount() >= 4 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}

	events, overlap := fb.snapshot()
	if overlap {
		t.Error("handlers ran concurrently")
	}
	if len(events) != 3 {
		t.Fatalf("handled %d events, want 3 (each update once)", len(events))
	}
	if r, ok := events[0].(TextReply); !ok || r.Text != "Alice" {
		t.Errorf("first event = %#v", events[0])
	}
	if p, ok := events[1].(PhotoSubmitted); !ok || p.Caption != "Bob" {
		t.Errorf("second event = %#v", events[1])
	}
	if r, ok := events[2].(TextReply); !ok || r.ReplyToMessageID != 101 {
		t.Errorf("third event = %#v", events[2])
	}
}

func TestListenerRequiresConfiguration(t *testing.T) {
	l := NewListener(NewBot(Config{}), &recordingFeedback{}, nil, time.Millisecond)
	if err := l.Run(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Run = %v, want ErrNotConfigured", err)
	}
}

type fakeLister struct {
	events []*database.DetectionEvent
	limit  int
}

func (f *fakeLister) List(_ context.Context, limit int, _ database.Status) ([]*database.DetectionEvent, error) {
	f.limit = limit
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

type fixedSize int

func (s fixedSize) Len() int { return int(s) }

type stillFrame []byte

func (s stillFrame) Latest() []byte { return s }

func TestCommands(t *testing.T) {
	lister := &fakeLister{events: []*database.DetectionEvent{
		testEvent(database.StatusKnown, "Alice"),
		testEvent(database.StatusUnknown, ""),
	}}

	tests := []struct {
		name      string
		cmd       Command
		wantText  []string
		wantLimit int
		wantPhoto bool
	}{
		{name: "status", cmd: Command{MessageID: 1, Name: "/status"}, wantText: []string{"Known faces: 2", "Pending alerts: 1", "Front Door"}},
		{name: "events default limit", cmd: Command{MessageID: 2, Name: "/events"}, wantText: []string{"1. ", "Alice (known)", "Unknown (unknown)"}, wantLimit: 5},
		{name: "events capped", cmd: Command{MessageID: 3, Name: "/events", Args: []string{"99"}}, wantText: []string{"Recent Events"}, wantLimit: 5},
		{name: "events explicit", cmd: Command{MessageID: 4, Name: "/events", Args: []string{"1"}}, wantText: []string{"(last 1)"}, wantLimit: 1},
		{name: "help", cmd: Command{MessageID: 5, Name: "/help"}, wantText: []string{"/events", "Reply to an alert"}},
		{name: "unknown", cmd: Command{MessageID: 6, Name: "/reboot"}, wantText: []string{"Unknown command: /reboot"}},
		{name: "snapshot", cmd: Command{MessageID: 7, Name: "/snapshot"}, wantPhoto: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			pending := NewPendingTable(time.Hour)
			pending.Register(900, PendingFeedback{})
			lister.limit = 0
			c := NewCommands(api.bot("42"), lister, pending, fixedSize(2), stillFrame("frame"), "Front Door")

			c.Handle(context.Background(), tt.cmd)

			if tt.wantPhoto {
				photos := api.sentPhotos()
				if len(photos) != 1 || string(photos[0].Data) != "frame" {
					t.Fatalf("photos = %+v", photos)
				}
				return
			}
			msgs := api.sentMessages()
			if len(msgs) != 1 {
				t.Fatalf("sent %d messages, want 1", len(msgs))
			}
			if msgs[0].ReplyTo != tt.cmd.MessageID {
				t.Errorf("reply_to = %d, want %d", msgs[0].ReplyTo, tt.cmd.MessageID)
			}
			for _, want := range tt.wantText {
				if !strings.Contains(msgs[0].Text, want) {
					t.Errorf("reply missing %q:\n%s", want, msgs[0].Text)
				}
			}
			if tt.wantLimit != 0 && lister.limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", lister.limit, tt.wantLimit)
			}
		})
	}
}

func TestCommandsStatusReportsCapture(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		status   CaptureStatus
		wantText []string
	}{
		{
			name:     "before the first frame",
			status:   CaptureStatus{},
			wantText: []string{"Uptime: 1h 0m", "Frames: 0 captured, 0 processed", "Last frame: none yet", "Reconnects: 0"},
		},
		{
			name:     "running",
			status:   CaptureStatus{FramesCaptured: 120, FramesProcessed: 40, Reconnects: 2, LastFrame: now.Add(-3 * time.Second)},
			wantText: []string{"Frames: 120 captured, 40 processed", "Last frame: 3s ago", "Reconnects: 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			c := NewCommands(api.bot("42"), &fakeLister{}, NewPendingTable(time.Hour), fixedSize(0), nil, "Front Door")
			c.now = func() time.Time { return now }
			c.startTime = now.Add(-time.Hour)
			c.SetCaptureStatus(func() CaptureStatus { return tt.status })

			c.Handle(context.Background(), Command{MessageID: 1, Name: "/status"})

			msgs := api.sentMessages()
			if len(msgs) != 1 {
				t.Fatalf("sent %d messages, want 1", len(msgs))
			}
			for _, want := range tt.wantText {
				if !strings.Contains(msgs[0].Text, want) {
					t.Errorf("status missing %q:\n%s", want, msgs[0].Text)
				}
			}
		})
	}
}

func TestBotDownloadFile(t *testing.T) {
	api := newFakeAPI(t)
	api.files["abc"] = []byte("jpeg-bytes")
	bot := api.bot("42")

	data, err := bot.DownloadFile(context.Background(), "abc")
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("data = %q", data)
	}

	if _, err := bot.DownloadFile(context.Background(), "missing"); err == nil || !strings.Contains(err.Error(), "invalid file_id") {
		t.Errorf("missing file err = %v", err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{90 * time.Second, "1m"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
		{49*time.Hour + time.Minute, "2d 1h 1m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
