package api

import "time"

// MessageDTO is the wire shape of a message as the backend reports it.
type MessageDTO struct {
	ID        int64  `json:"id"`
	ChatID    int64  `json:"chat_id"`
	SenderID  int64  `json:"sender_id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"` // RFC3339
}

// CreatedAtUnix parses the wire timestamp to epoch seconds. The backend has
// been observed emitting empty timestamps for system messages; those fall
// back to now rather than poisoning the sort order with zero.
func (m *MessageDTO) CreatedAtUnix() int64 {
	ts, err := time.Parse(time.RFC3339, m.CreatedAt)
	if err != nil {
		return time.Now().Unix()
	}
	return ts.Unix()
}

// SendMessageRequest is the submit-message payload.
type SendMessageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// ChatDTO is the wire shape of a chat summary.
type ChatDTO struct {
	ID                 int64  `json:"id"`
	Type               int    `json:"type"`
	Title              string `json:"title"`
	Avatar             string `json:"avatar"`
	LastMessagePreview string `json:"last_message_preview"`
	LastMessageAt      int64  `json:"last_message_at"`
	MembersCount       int64  `json:"members_count"`
	OtherUserID        int64  `json:"other_user_id"`
	UnreadCount        int64  `json:"unread_count"`
}

// UserDTO is the wire shape of a user profile.
type UserDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	IsOnline bool   `json:"is_online"`
	LastSeen int64  `json:"last_seen"`
}

// uploadResponse is the media upload reply.
type uploadResponse struct {
	URL string `json:"url"`
}
