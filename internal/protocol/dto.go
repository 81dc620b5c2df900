package protocol

import "time"

// UserEntry is one row of the authenticated user list.
type UserEntry struct {
	ID                 int64      `json:"id"`
	DisplayName        string     `json:"displayName"`
	AvatarRef          string     `json:"avatarRef,omitempty"`
	IsOnline           bool       `json:"isOnline"`
	LastSeen           *time.Time `json:"lastSeen,omitempty"`
	LastMessagePreview string     `json:"lastMessagePreview,omitempty"`
	LastMessageAt      *time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount        int        `json:"unreadCount"`
}

// HistoryMessage is one message of a history page.
type HistoryMessage struct {
	ID              int64     `json:"id"`
	SenderID        int64     `json:"senderId"`
	RecipientID     int64     `json:"recipientId"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
	IsRead          bool      `json:"isRead"`
	IsOwnedByCaller bool      `json:"isOwnedByCaller"`

	// CorrelationToken is echoed on the caller's own messages only, so a
	// send whose ack was lost can still be matched after a reload.
	CorrelationToken string `json:"correlationToken,omitempty"`
}

// Identity answers the current-identity query.
type Identity struct {
	UserID      int64  `json:"userId"`
	DisplayName string `json:"displayName"`
}

// DevSessionRequest provisions a user and session in development deployments.
type DevSessionRequest struct {
	UserID      int64  `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarKey   string `json:"avatarKey,omitempty"`
}

// DevSessionResponse returns the issued session token.
type DevSessionResponse struct {
	UserID int64  `json:"userId"`
	Token  string `json:"token"`
}
