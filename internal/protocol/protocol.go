// Package protocol defines the JSON frames exchanged over a participant's
// WebSocket connection and the encrypted message envelope they carry. The
// relay treats envelope content as opaque ciphertext and forwards it verbatim.
package protocol

import (
	"strconv"
	"time"
)

// Frame types carried in the Type field.
const (
	TypeJoinRoom       = "join-room"
	TypeSendMessage    = "send-message"
	TypeReceiveMessage = "receive-message"
	TypeError          = "error"
)

// Error codes surfaced in error frames.
const (
	CodeInvalidFrame = "INVALID_FRAME"
	CodeBackpressure = "BACKPRESSURE"
)

// Frame is the single wire unit in both directions. Fields beyond Type are
// populated according to the frame type.
type Frame struct {
	Type    string    `json:"type"`
	RoomID  string    `json:"roomId,omitempty"`
	Message *Envelope `json:"message,omitempty"`
	Code    string    `json:"code,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// JoinRoom builds a client frame requesting membership in a room.
func JoinRoom(roomID string) Frame {
	return Frame{Type: TypeJoinRoom, RoomID: roomID}
}

// SendMessage builds a client frame carrying an envelope for fan-out.
func SendMessage(roomID string, msg Envelope) Frame {
	return Frame{Type: TypeSendMessage, RoomID: roomID, Message: &msg}
}

// ReceiveMessage builds the server frame delivered to other room members.
func ReceiveMessage(msg Envelope) Frame {
	return Frame{Type: TypeReceiveMessage, Message: &msg}
}

// ErrorFrame builds a server frame reporting a rejected client frame.
func ErrorFrame(code, reason string) Frame {
	return Frame{Type: TypeError, Code: code, Reason: reason}
}

// Envelope is the transmitted message unit. Content is ciphertext that is
// meaningless without the room identifier it was sealed under. Timestamps and
// self-destruct durations are millisecond values, matching the web client's
// wire shape.
type Envelope struct {
	ID                 string `json:"id"`
	Content            string `json:"content"`
	Timestamp          int64  `json:"timestamp"`
	SelfDestructMillis int64  `json:"selfDestructTime,omitempty"`
	Sender             string `json:"sender,omitempty"`
}

// NewEnvelope stamps a fresh envelope. The id is derived from the creation
// time and is only unique within the sending session; recipients scope it to
// their own view.
func NewEnvelope(content, sender string, ttl time.Duration, now time.Time) Envelope {
	return Envelope{
		ID:                 strconv.FormatInt(now.UnixMilli(), 10),
		Content:            content,
		Timestamp:          now.UnixMilli(),
		SelfDestructMillis: ttl.Milliseconds(),
		Sender:             sender,
	}
}

// CreatedAt returns the envelope creation time.
func (e Envelope) CreatedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// HasTTL reports whether the envelope self-destructs.
func (e Envelope) HasTTL() bool {
	return e.SelfDestructMillis > 0
}

// TTL returns the self-destruct duration; zero when the message is permanent.
func (e Envelope) TTL() time.Duration {
	return time.Duration(e.SelfDestructMillis) * time.Millisecond
}

// Expired reports whether the TTL has elapsed at the given instant. Messages
// without a TTL never expire.
func (e Envelope) Expired(now time.Time) bool {
	if !e.HasTTL() {
		return false
	}
	return now.Sub(e.CreatedAt()) >= e.TTL()
}
