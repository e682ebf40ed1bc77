package bus

import (
	"time"
)

// ChatKind distinguishes one-to-one chats from multi-party ones.
type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
)

// MediaKind is the kind of binary payload attached to an inbound message.
type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaVoice MediaKind = "voice"
	MediaPhoto MediaKind = "photo"
	// MediaOther marks payloads the bot does not handle (stickers, video, documents).
	MediaOther MediaKind = "other"
)

// Media references a file on the transport; bytes are fetched lazily so that
// gated-out events never download anything.
type Media struct {
	Kind     MediaKind
	FileID   string
	MimeType string
}

type InboundMessage struct {
	Channel     string
	SenderID    string
	SenderName  string
	ChatID      string
	ChatKind    ChatKind
	Content     string // text body, empty for media
	Caption     string
	Media       Media
	ReplyToText string // text of the message this one replies to, if any
	Timestamp   time.Time
	Metadata    map[string]any
}

// IsGroup reports whether the message came from a multi-party chat.
func (m *InboundMessage) IsGroup() bool {
	return m.ChatKind == ChatGroup
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	ReplyTo string // message id to quote, empty for none
}
