package transport

import (
	"context"

	"draftbot/internal/draft"
)

type UpdateKind string

const (
	UpdateChannelPost UpdateKind = "channel_post"
	UpdateCallback    UpdateKind = "callback"
	UpdatePrivate     UpdateKind = "private"
)

type Update struct {
	Kind     UpdateKind
	Post     *ChannelPost
	Callback *Callback
	Private  *PrivateMessage
}

// ChannelPost is a message posted in a channel the bot watches.
// Poll is non-nil when the post carried a poll; its fields are captured
// eagerly because the platform does not allow re-reading them later.
type ChannelPost struct {
	ID      int
	ChatID  int64
	Text    string
	Caption string
	Poll    *draft.Poll
	ReplyTo int // replied-to message id, 0 if none
}

type PrivateMessage struct {
	ID     int
	ChatID int64
	FromID int64
	Text   string
}

type Callback struct {
	ID        string
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	Silent             bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Adapter is the platform transport collaborator. Implementations must return
// errors already classified via the taxonomy in errors.go.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	// CopyMessage replays a source item by reference into another chat.
	// protected forbids forwarding/saving on the receiving side.
	CopyMessage(ctx context.Context, to ChatTarget, from ChatTarget, messageID int, protected bool) (MessageRef, error)
	// SendPoll recreates a captured poll in the destination chat.
	SendPoll(ctx context.Context, to ChatTarget, p draft.Poll) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// BotUsername reports the bot's own username (for deep links).
	BotUsername() string
}
