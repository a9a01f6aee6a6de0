package telegram

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage is the subset of the Bot API message object the bot reads.
type TelegramMessage struct {
	MessageID      int64            `json:"message_id"`
	From           *TelegramUser    `json:"from,omitempty"`
	Chat           *TelegramChat    `json:"chat,omitempty"`
	Date           int64            `json:"date"`
	Text           string           `json:"text,omitempty"`
	Caption        string           `json:"caption,omitempty"`
	Photo          []PhotoSize      `json:"photo,omitempty"`
	ReplyToMessage *TelegramMessage `json:"reply_to_message,omitempty"`
}

// TelegramUser represents a Telegram user
type TelegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// PhotoSize is one resolution of a sent photo. Telegram lists them smallest first.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size,omitempty"`
}
