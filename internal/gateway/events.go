package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// Webhook event kinds after normalization.
const (
	EventMessagesUpsert   = "messages.upsert"
	EventConnectionUpdate = "connection.update"
	EventQRCodeUpdated    = "qrcode.updated"
)

// Envelope is the body the gateway posts to the webhook.
type Envelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// Kind returns the normalized event name. The gateway emits both
// "messages.upsert" and "MESSAGES_UPSERT" depending on configuration.
func (e Envelope) Kind() string {
	return NormalizeEvent(e.Event)
}

// NormalizeEvent lowercases name and uses dots as separators.
func NormalizeEvent(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", ".")
}

// MessageKey identifies a WhatsApp message. Chats addressed by linked id
// (@lid) carry the phone jid in RemoteJIDAlt or SenderPN.
type MessageKey struct {
	RemoteJID    string `json:"remoteJid"`
	RemoteJIDAlt string `json:"remoteJidAlt,omitempty"`
	SenderPN     string `json:"senderPn,omitempty"`
	FromMe       bool   `json:"fromMe"`
	ID           string `json:"id"`
	Participant  string `json:"participant,omitempty"`
}

// SenderPhone returns the phone of a one-to-one chat. A linked-id chat
// resolves through its phone alternates; without one it is unsupported.
func (k MessageKey) SenderPhone() (string, error) {
	phone, err := PhoneFromJID(k.RemoteJID)
	if err == nil || !isLinkedID(k.RemoteJID) {
		return phone, err
	}
	for _, alt := range []string{k.RemoteJIDAlt, k.SenderPN} {
		if phone, altErr := PhoneFromJID(alt); altErr == nil {
			return phone, nil
		}
	}
	return "", ErrUnsupportedChat
}

func isLinkedID(jid string) bool {
	parsed, err := types.ParseJID(strings.TrimSpace(jid))
	return err == nil && parsed.Server == types.HiddenUserServer
}

// MediaMessage is the common shape of image, audio, video and document payloads.
type MediaMessage struct {
	Caption  string `json:"caption"`
	Mimetype string `json:"mimetype"`
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

// MessageContent is the protocol message body. Only the fields the helpdesk
// reads are declared.
type MessageContent struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage,omitempty"`
	ImageMessage    *MediaMessage `json:"imageMessage,omitempty"`
	VideoMessage    *MediaMessage `json:"videoMessage,omitempty"`
	AudioMessage    *MediaMessage `json:"audioMessage,omitempty"`
	DocumentMessage *MediaMessage `json:"documentMessage,omitempty"`
	StickerMessage  *MediaMessage `json:"stickerMessage,omitempty"`
	Base64          string        `json:"base64,omitempty"`
}

// MessageData is one received message.
type MessageData struct {
	Key         MessageKey      `json:"key"`
	PushName    string          `json:"pushName"`
	Message     *MessageContent `json:"message,omitempty"`
	MessageType string          `json:"messageType"`
}

// Text returns the message text or caption, empty when none exists.
func (m MessageData) Text() string {
	c := m.Message
	if c == nil {
		return ""
	}
	switch {
	case c.Conversation != "":
		return c.Conversation
	case c.ExtendedTextMessage != nil && c.ExtendedTextMessage.Text != "":
		return c.ExtendedTextMessage.Text
	case c.ImageMessage != nil && c.ImageMessage.Caption != "":
		return c.ImageMessage.Caption
	case c.VideoMessage != nil && c.VideoMessage.Caption != "":
		return c.VideoMessage.Caption
	case c.DocumentMessage != nil && c.DocumentMessage.Caption != "":
		return c.DocumentMessage.Caption
	}
	return ""
}

// Media returns the media kind and payload, or "" when the message is text only.
func (m MessageData) Media() (string, *MediaMessage) {
	c := m.Message
	if c == nil {
		return "", nil
	}
	switch {
	case c.ImageMessage != nil:
		return "image", c.ImageMessage
	case c.StickerMessage != nil:
		return "image", c.StickerMessage
	case c.AudioMessage != nil:
		return "audio", c.AudioMessage
	case c.VideoMessage != nil:
		return "video", c.VideoMessage
	case c.DocumentMessage != nil:
		return "document", c.DocumentMessage
	}
	return "", nil
}

// ConnectionUpdateData is the payload of connection.update.
type ConnectionUpdateData struct {
	State        string `json:"state"`
	StatusReason int    `json:"statusReason"`
}

// QRCodeUpdatedData is the payload of qrcode.updated.
type QRCodeUpdatedData struct {
	QRCode QRCodePayload `json:"qrcode"`
}

// ErrEmptyData is returned when an event carries no data object.
var ErrEmptyData = errors.New("event data is empty")

// ParseMessages decodes messages.upsert data, which is either a single message,
// an array of messages or an object wrapping them under "messages".
func ParseMessages(raw json.RawMessage) ([]MessageData, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyData
	}
	if trimmed[0] == '[' {
		var list []MessageData
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var wrapped struct {
		Messages []MessageData `json:"messages"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err == nil && len(wrapped.Messages) > 0 {
		return wrapped.Messages, nil
	}
	var single MessageData
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []MessageData{single}, nil
}

// ErrUnsupportedChat is returned for jids that do not identify a single phone.
var ErrUnsupportedChat = errors.New("jid does not identify a phone number")

// PhoneFromJID strips the server and device suffix from a user jid and
// returns the phone in +E.164 form. Group, broadcast and newsletter jids are rejected.
func PhoneFromJID(jid string) (string, error) {
	jid = strings.TrimSpace(jid)
	if jid == "" {
		return "", ErrUnsupportedChat
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return "", err
	}
	switch parsed.Server {
	case types.DefaultUserServer, types.LegacyUserServer:
	default:
		return "", ErrUnsupportedChat
	}
	digits := strings.TrimPrefix(parsed.User, "+")
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return "", ErrUnsupportedChat
	}
	return "+" + digits, nil
}

// GatewayNumber converts a stored +E.164 phone into the digits-only form the
// send endpoints expect.
func GatewayNumber(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "+")
}
