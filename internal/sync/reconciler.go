package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/faustyu/paprika/internal/api"
	"github.com/faustyu/paprika/internal/identity"
	"github.com/faustyu/paprika/internal/store"
)

// Reconciler merges the server's message history for a chat into the
// cache. Only messages whose server ID is not yet cached are inserted, so
// repeated passes with no new remote data leave the cache bit-identical.
type Reconciler struct {
	db       *store.DB
	client   *api.Client
	resolver *identity.Resolver
	logger   *zap.Logger
}

func NewReconciler(db *store.DB, client *api.Client, resolver *identity.Resolver, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:       db,
		client:   client,
		resolver: resolver,
		logger:   logger.Named("reconcile"),
	}
}

// RefreshChats merges the remote chat list into the cache so the chat list
// renders with current titles and unread counts. Best-effort like
// Reconcile: network failures are logged and leave the cache unchanged.
func (r *Reconciler) RefreshChats(ctx context.Context) error {
	remote, err := r.client.Chats(ctx)
	if err != nil {
		r.logger.Warn("chat list refresh skipped, fetch failed", zap.Error(err))
		return nil
	}

	for _, dto := range remote {
		if err := r.db.UpsertChat(&store.Chat{
			ID:                 dto.ID,
			Title:              dto.Title,
			UnreadCount:        int(dto.UnreadCount),
			LastMessageAt:      dto.LastMessageAt,
			LastMessagePreview: dto.LastMessagePreview,
		}); err != nil {
			return err
		}
	}

	r.logger.Info("refreshed chat list", zap.Int("chats", len(remote)))
	return nil
}

// Reconcile fetches the remote history for a chat and inserts whatever the
// cache is missing. Network failures are logged and leave the cache
// unchanged; refresh is best-effort and the caller is not expected to
// react.
func (r *Reconciler) Reconcile(ctx context.Context, chatID int64) error {
	userID, err := r.resolver.UserID(ctx)
	if err != nil {
		// No sender matches user 0, so the import proceeds with every
		// message treated as foreign rather than being suppressed.
		r.logger.Warn("identity unresolved, importing without ownership",
			zap.Int64("chat_id", chatID), zap.Error(err))
		userID = 0
	}

	remote, err := r.client.ChatMessages(ctx, chatID)
	if err != nil {
		r.logger.Warn("reconcile skipped, history fetch failed",
			zap.Int64("chat_id", chatID), zap.Error(err))
		return nil
	}

	known, err := r.db.ListServerIDs(chatID)
	if err != nil {
		return err
	}

	var fresh []store.Message
	var newest *store.Message
	for _, dto := range remote {
		if _, ok := known[dto.ID]; ok {
			continue
		}
		m := buildMessage(dto, dto.SenderID == userID, true)
		fresh = append(fresh, m)
		if newest == nil || m.CreatedAt > newest.CreatedAt {
			last := m
			newest = &last
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	if err := r.db.InsertBatch(fresh); err != nil {
		return err
	}
	if err := r.db.TouchChatPreview(chatID, preview(*newest), newest.CreatedAt); err != nil {
		r.logger.Warn("failed to update chat preview", zap.Error(err))
	}

	r.logger.Info("reconciled chat history",
		zap.Int64("chat_id", chatID),
		zap.Int("imported", len(fresh)),
		zap.Int("remote_total", len(remote)))
	return nil
}
