package telegram

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"
)

// InboundEvent is one message from the operator chat the bot acts on.
type InboundEvent interface {
	inbound()
}

// PhotoSubmitted is a photo sent to the bot, captioned with a person's name.
type PhotoSubmitted struct {
	MessageID int64
	FileID    string
	Caption   string
}

// TextReply is a text message answering an earlier message.
type TextReply struct {
	MessageID        int64
	ReplyToMessageID int64
	Text             string
}

// Command is a slash command such as /status.
type Command struct {
	MessageID int64
	Name      string
	Args      []string
}

func (PhotoSubmitted) inbound() {}
func (TextReply) inbound()      {}
func (Command) inbound()        {}

// FeedbackHandler consumes operator labels.
type FeedbackHandler interface {
	HandlePhoto(ctx context.Context, ev PhotoSubmitted)
	HandleReply(ctx context.Context, ev TextReply)
}

// Listener polls the Bot API and hands each inbound event to its handler.
// Events are handled one at a time in arrival order.
type Listener struct {
	bot          *Bot
	feedback     FeedbackHandler
	commands     *Commands
	pollInterval time.Duration
	lastUpdateID int64
}

// NewListener creates a listener. commands may be nil.
func NewListener(bot *Bot, feedback FeedbackHandler, commands *Commands, pollInterval time.Duration) *Listener {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Listener{
		bot:          bot,
		feedback:     feedback,
		commands:     commands,
		pollInterval: pollInterval,
	}
}

// Run polls until ctx is cancelled. Poll failures are logged and retried on
// the next tick.
func (l *Listener) Run(ctx context.Context) error {
	if !l.bot.Configured() {
		return ErrNotConfigured
	}

	log.Printf("[Telegram] Listening for updates every %v", l.pollInterval)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Telegram] Listener stopped")
			return nil
		case <-ticker.C:
			if err := l.poll(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[Telegram] Warning: failed to poll updates: %v", err)
			}
		}
	}
}

func (l *Listener) poll(ctx context.Context) error {
	updates, err := l.bot.GetUpdates(ctx, l.lastUpdateID+1, time.Second)
	if err != nil {
		return err
	}

	for _, update := range updates {
		if update.UpdateID > l.lastUpdateID {
			l.lastUpdateID = update.UpdateID
		}
		ev, ok := ParseUpdate(update, l.bot.ChatID())
		if !ok {
			continue
		}
		l.dispatch(ctx, ev)
	}
	return nil
}

func (l *Listener) dispatch(ctx context.Context, ev InboundEvent) {
	switch ev := ev.(type) {
	case PhotoSubmitted:
		l.feedback.HandlePhoto(ctx, ev)
	case TextReply:
		l.feedback.HandleReply(ctx, ev)
	case Command:
		if l.commands != nil {
			l.commands.Handle(ctx, ev)
		}
	}
}

// ParseUpdate turns an update into an inbound event. Messages from chats
// other than authorizedChat, and plain text that answers nothing, are dropped.
func ParseUpdate(update Update, authorizedChat string) (InboundEvent, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil, false
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if chatID != authorizedChat {
		log.Printf("[Telegram] Ignoring message from unauthorized chat %s", chatID)
		return nil, false
	}

	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		return PhotoSubmitted{MessageID: msg.MessageID, FileID: largest.FileID, Caption: msg.Caption}, true
	}

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		parts := strings.Fields(text)
		name := strings.ToLower(parts[0])
		// /status@watchpost_bot
		if at := strings.Index(name, "@"); at != -1 {
			name = name[:at]
		}
		return Command{MessageID: msg.MessageID, Name: name, Args: parts[1:]}, true
	}

	if msg.ReplyToMessage != nil && text != "" {
		return TextReply{MessageID: msg.MessageID, ReplyToMessageID: msg.ReplyToMessage.MessageID, Text: text}, true
	}
	return nil, false
}
