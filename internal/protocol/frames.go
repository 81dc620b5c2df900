/*
Package protocol defines the wire contract shared by the connection hub and
its clients: the tagged union of websocket frames and the HTTP response DTOs.

Every websocket frame is a flat JSON object whose "type" field selects the
variant. Decode switches exhaustively over the known types, so hub and client
never dispatch on an unchecked string.
*/
package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Type is the discriminator carried in every frame's "type" field.
type Type string

const (
	TypeAuth         Type = "auth"
	TypeAuthOK       Type = "auth-ok"
	TypeMessage      Type = "message"
	TypeMessageAck   Type = "message-ack"
	TypeStatusUpdate Type = "status-update"
	TypeTyping       Type = "typing"
	TypeStopTyping   Type = "stop-typing"
	TypeTypingStatus Type = "typing-status"
	TypeMarkRead     Type = "mark-read"
	TypeMessagesRead Type = "messages-read"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
	TypeError        Type = "error"
)

// Websocket close codes in the application range.
const (
	// CloseSessionEnded: the session was ended server-side (logout).
	CloseSessionEnded = 4001

	// CloseAuthFailed: the token was rejected and must not be retried.
	CloseAuthFailed = 4003
)

var (
	// ErrUnknownType is returned by Decode for a "type" outside the union.
	ErrUnknownType = errors.New("protocol: unknown frame type")

	// ErrMalformed is returned by Decode for invalid JSON or a frame missing required fields.
	ErrMalformed = errors.New("protocol: malformed frame")
)

// Frame is implemented by every variant of the union.
type Frame interface {
	FrameType() Type
	validate() error
}

// Auth is the first frame a client sends on a new connection.
type Auth struct {
	Token string `json:"token"`
}

// AuthOK confirms authentication and moves the client to the live state.
type AuthOK struct {
	UserID      int64  `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Message is an outbound direct message. CorrelationToken is echoed back on the ack.
type Message struct {
	RecipientID      int64  `json:"recipientId"`
	Content          string `json:"content"`
	CorrelationToken string `json:"correlationToken,omitempty"`
}

// MessageAck carries a durable message to the sender's and recipient's connections.
type MessageAck struct {
	ID               int64     `json:"id"`
	CorrelationToken string    `json:"correlationToken,omitempty"`
	SenderID         int64     `json:"senderId"`
	RecipientID      int64     `json:"recipientId"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"createdAt"`
}

// StatusUpdate announces a presence transition.
type StatusUpdate struct {
	UserID   int64 `json:"userId"`
	IsOnline bool  `json:"isOnline"`
}

// Typing reports that the sender started or is still typing to RecipientID.
type Typing struct {
	RecipientID int64 `json:"recipientId"`
	IsTyping    bool  `json:"isTyping"`
}

// StopTyping reports that the sender stopped typing to RecipientID.
type StopTyping struct {
	RecipientID int64 `json:"recipientId"`
}

// TypingStatus is the typing state of UserID as seen by the receiving user.
type TypingStatus struct {
	UserID   int64  `json:"userId"`
	IsTyping bool   `json:"isTyping"`
	Username string `json:"username,omitempty"`
}

// MarkRead marks every message from SenderID to the caller as read.
type MarkRead struct {
	SenderID int64 `json:"senderId"`
}

// MessagesRead tells a sender that RecipientID has read their messages.
type MessagesRead struct {
	RecipientID int64 `json:"recipientId"`
}

// Ping is the application-level liveness probe.
type Ping struct{}

// Pong answers Ping.
type Pong struct{}

// Error reports a per-message or per-connection failure. CorrelationToken is
// set when the failure belongs to a specific send.
type Error struct {
	Code             int    `json:"code"`
	Message          string `json:"message"`
	CorrelationToken string `json:"correlationToken,omitempty"`
}

// FrameType implementations tie each variant to its wire tag.
func (Auth) FrameType() Type         { return TypeAuth }
func (AuthOK) FrameType() Type       { return TypeAuthOK }
func (Message) FrameType() Type      { return TypeMessage }
func (MessageAck) FrameType() Type   { return TypeMessageAck }
func (StatusUpdate) FrameType() Type { return TypeStatusUpdate }
func (Typing) FrameType() Type       { return TypeTyping }
func (StopTyping) FrameType() Type   { return TypeStopTyping }
func (TypingStatus) FrameType() Type { return TypeTypingStatus }
func (MarkRead) FrameType() Type     { return TypeMarkRead }
func (MessagesRead) FrameType() Type { return TypeMessagesRead }
func (Ping) FrameType() Type         { return TypePing }
func (Pong) FrameType() Type         { return TypePong }
func (Error) FrameType() Type        { return TypeError }

func (Auth) validate() error { return nil }

func (f AuthOK) validate() error {
	return requirePositive("userId", f.UserID)
}

func (f Message) validate() error {
	return requirePositive("recipientId", f.RecipientID)
}

func (f MessageAck) validate() error {
	if err := requirePositive("id", f.ID); err != nil {
		return err
	}
	if err := requirePositive("senderId", f.SenderID); err != nil {
		return err
	}
	return requirePositive("recipientId", f.RecipientID)
}

func (f StatusUpdate) validate() error {
	return requirePositive("userId", f.UserID)
}

func (f Typing) validate() error {
	return requirePositive("recipientId", f.RecipientID)
}

func (f StopTyping) validate() error {
	return requirePositive("recipientId", f.RecipientID)
}

func (f TypingStatus) validate() error {
	return requirePositive("userId", f.UserID)
}

func (f MarkRead) validate() error {
	return requirePositive("senderId", f.SenderID)
}

func (f MessagesRead) validate() error {
	return requirePositive("recipientId", f.RecipientID)
}

func (Ping) validate() error  { return nil }
func (Pong) validate() error  { return nil }
func (Error) validate() error { return nil }

func requirePositive(field string, v int64) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s must be a positive id", ErrMalformed, field)
	}
	return nil
}
