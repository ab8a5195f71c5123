package transport

import (
	"context"
	"errors"
	"strconv"
)

type UpdateKind string

const (
	UpdateMessage   UpdateKind = "message"
	UpdateLifecycle UpdateKind = "lifecycle"
)

type Update struct {
	Kind      UpdateKind
	Message   *Message
	Lifecycle *Lifecycle
}

type Message struct {
	ID         int
	ChatID     int64
	ThreadID   int // telegram forum topic thread id (0 if none)
	SenderID   int64  // user id, or the channel's chat id for channel posts
	SenderName string // username when known, else first name or channel title
	Text       string
	IsGroup    bool
	// FromChat is set when the message was posted on behalf of the chat
	// itself (anonymous group admins on Telegram).
	FromChat bool
}

// IsChatID reports whether a sender id names a chat (a channel posting in
// the group) rather than a user. Telegram chat ids are negative.
func IsChatID(id int64) bool { return id < 0 }

// SenderKey is the opaque identity used to key per-sender moderation state.
func (m *Message) SenderKey() string {
	return strconv.FormatInt(m.SenderID, 10)
}

func (m *Message) Ref() MessageRef {
	return MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.ID}
}

func (m *Message) Chat() ChatTarget {
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

type LifecycleState string

const (
	LifecyclePairingRequired LifecycleState = "pairing_required"
	LifecycleReady           LifecycleState = "ready"
	LifecycleDisconnected    LifecycleState = "disconnected"
	LifecycleAuthFailure     LifecycleState = "auth_failure"
)

type Lifecycle struct {
	State  LifecycleState
	Detail string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Contact is a resolved display identity of a chat member.
type Contact struct {
	UserID      int64
	Username    string
	DisplayName string
}

// Handle returns the identifier shown to humans: @username when present.
func (c Contact) Handle() string {
	if c.Username != "" {
		return "@" + c.Username
	}
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return strconv.FormatInt(c.UserID, 10)
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Mentions are rendered as user mentions by the adapter. Text may refer
	// to them by their Handle().
	Mentions []Contact
}

// ErrNotSupported is returned by adapters for capabilities they lack.
var ErrNotSupported = errors.New("transport: not supported")

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Moderation is the capability surface the moderation core drives.
type Moderation interface {
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	Contact(ctx context.Context, chatID, userID int64) (Contact, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
	RemoveMember(ctx context.Context, chatID int64, userIDs ...int64) error
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Pairer is implemented by adapters that can express a pairing token as a
// link the owner opens to bind the bot.
type Pairer interface {
	PairingLink(token string) string
}
