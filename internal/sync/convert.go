package sync

import (
	"github.com/faustyu/paprika/internal/api"
	"github.com/faustyu/paprika/internal/store"
)

// buildMessage converts a wire message into a cache record. promoteSent
// applies the history-import heuristic: a message that only surfaces
// through a bulk fetch has been seen by now, so "sent" becomes "read"
// instead of leaving a stale unread marker on old content.
func buildMessage(dto api.MessageDTO, isMe, promoteSent bool) store.Message {
	status := dto.Status
	if promoteSent && status == store.StatusSent {
		status = store.StatusRead
	}
	return store.Message{
		ServerID:  dto.ID,
		ChatID:    dto.ChatID,
		SenderID:  dto.SenderID,
		Content:   dto.Content,
		Type:      dto.Type,
		Status:    status,
		CreatedAt: dto.CreatedAtUnix(),
		IsMe:      isMe,
	}
}

// preview is the one-line chat list summary for a message.
func preview(m store.Message) string {
	if m.Type == store.TypeImage {
		return "Photo"
	}
	return m.Content
}
