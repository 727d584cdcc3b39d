package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/faustyu/paprika/internal/api"
	"github.com/faustyu/paprika/internal/bus"
	"github.com/faustyu/paprika/internal/realtime"
	"github.com/faustyu/paprika/internal/status"
	"github.com/faustyu/paprika/internal/store"
)

// Session wires everything needed to view one chat live: a cache
// subscription for rendering, a history reconcile to fill gaps, and the
// realtime feed for pushes. Closing the session tears down the feed and
// releases the subscription; cached data persists.
type Session struct {
	chatID int64
	logger *zap.Logger

	msgs      <-chan []store.Message
	stopWatch func()
	feed      *realtime.Feed
}

// OpenSession activates a chat.
//
// The cache subscription is established before any network work starts, so
// whatever reconcile or the feed writes is observed rather than raced. One
// reconcile pass runs immediately; the feed's open hook runs another after
// every (re)connect to close any gap accumulated while offline. Reconcile
// is idempotent, so the overlap is harmless. Marking the chat read on the
// backend is fire-and-forget.
func OpenSession(ctx context.Context, chatID int64, db *store.DB, client *api.Client,
	rec *Reconciler, b *bus.Bus, logger *zap.Logger) (*Session, error) {

	log := logger.Named("session").With(zap.Int64("chat_id", chatID))

	msgs, stopWatch, err := store.NewWatcher(db, b).Watch(chatID)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := rec.Reconcile(ctx, chatID); err != nil {
			log.Warn("initial reconcile failed", zap.Error(err))
		}
	}()

	feed := realtime.NewFeed(client.WSURL(), b, status.NewMachine(b), log)
	feed.OnOpen(func(ctx context.Context) {
		if err := rec.Reconcile(ctx, chatID); err != nil {
			log.Warn("reconcile on reconnect failed", zap.Error(err))
		}
	})
	feed.Connect(ctx)

	go func() {
		if err := client.MarkChatRead(ctx, chatID); err != nil {
			log.Debug("mark read failed", zap.Error(err))
		}
	}()

	// Chat header details (title, unread count) are refreshed on every
	// open, best-effort like mark-read.
	go func() {
		dto, err := client.Chat(ctx, chatID)
		if err != nil {
			log.Debug("chat details fetch failed", zap.Error(err))
			return
		}
		if err := db.UpsertChat(&store.Chat{
			ID:                 dto.ID,
			Title:              dto.Title,
			UnreadCount:        int(dto.UnreadCount),
			LastMessageAt:      dto.LastMessageAt,
			LastMessagePreview: dto.LastMessagePreview,
		}); err != nil {
			log.Warn("failed to cache chat details", zap.Error(err))
		}
	}()

	return &Session{
		chatID:    chatID,
		logger:    log,
		msgs:      msgs,
		stopWatch: stopWatch,
		feed:      feed,
	}, nil
}

// Messages returns the live view channel: each receive is a full, freshly
// ordered snapshot of the chat.
func (s *Session) Messages() <-chan []store.Message {
	return s.msgs
}

// ChatID returns the chat this session renders.
func (s *Session) ChatID() int64 {
	return s.chatID
}

// Close deactivates the session. Idempotent via the feed's own guard.
func (s *Session) Close() error {
	err := s.feed.Close()
	s.stopWatch()
	return err
}
