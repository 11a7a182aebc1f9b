package domain

import "time"

// SenderType indicates who authored a message.
type SenderType string

const (
	SenderTypeContact SenderType = "contact"
	SenderTypeUser    SenderType = "user"
	SenderTypeBot     SenderType = "bot"
)

// MediaKind classifies attached media.
type MediaKind string

const (
	MediaKindImage    MediaKind = "image"
	MediaKindAudio    MediaKind = "audio"
	MediaKindVideo    MediaKind = "video"
	MediaKindDocument MediaKind = "document"
)

// MediaPlaceholder is stored as content when a message carries media without a caption.
const MediaPlaceholder = "[Mídia]"

// Message is an append-only record inside a ticket. ExternalID is the gateway
// message id; it is unique per ConnectionID only, since both ends of a chat
// between two paired numbers see the same id.
type Message struct {
	ID           string
	Seq          int64
	TicketID     string
	SenderType   SenderType
	SenderID     *string
	Content      string
	MediaURL     *string
	MediaType    *string
	ConnectionID *string
	ExternalID   *string
	Read         bool
	CreatedAt    time.Time
}
