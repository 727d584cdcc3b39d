package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/faustyu/paprika/internal/api"
	"github.com/faustyu/paprika/internal/bus"
	"github.com/faustyu/paprika/internal/identity"
	"github.com/faustyu/paprika/internal/realtime"
	"github.com/faustyu/paprika/internal/store"
)

// Engine consumes decoded feed events from the bus and applies them to the
// cache. Application is idempotent: a replayed "rt.message" lands on the
// same (chat_id, server_id) row and a stale "rt.status" receipt is ignored
// by the store's monotonic status guard, so the engine never needs to
// dedupe.
type Engine struct {
	db       *store.DB
	resolver *identity.Resolver
	bus      *bus.Bus
	logger   *zap.Logger

	unsub  func()
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(db *store.DB, resolver *identity.Resolver, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		resolver: resolver,
		bus:      b,
		logger:   logger.Named("sync"),
	}
}

// Start subscribes to feed events and applies them until ctx is cancelled
// or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("rt.", 256)
	e.unsub = unsub
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				e.apply(ctx, evt)
			}
		}
	}()
}

// Stop unsubscribes and waits for the apply loop to exit.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

func (e *Engine) apply(ctx context.Context, evt bus.Event) {
	switch p := evt.Payload.(type) {
	case realtime.MessageEvent:
		e.applyMessage(ctx, p)
	case realtime.StatusEvent:
		if err := e.db.UpdateMessageStatus(p.ChatID, p.ID, p.Status); err != nil {
			e.logger.Warn("failed to apply status receipt",
				zap.Int64("chat_id", p.ChatID),
				zap.Int64("server_id", p.ID),
				zap.Error(err))
		}
	}
}

func (e *Engine) applyMessage(ctx context.Context, p realtime.MessageEvent) {
	isMe, err := e.resolver.IsMe(ctx, p.SenderID)
	if err != nil {
		// Caching the message as foreign beats dropping it; ownership is
		// a render hint, the record itself is authoritative.
		e.logger.Warn("identity unresolved, caching feed message as foreign", zap.Error(err))
		isMe = false
	}

	m := buildMessage(api.MessageDTO{
		ID:        p.ID,
		ChatID:    p.ChatID,
		SenderID:  p.SenderID,
		Content:   p.Content,
		Type:      p.Type,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
	}, isMe, false)

	if err := e.db.UpsertByServerID(&m); err != nil {
		e.logger.Warn("failed to apply feed message",
			zap.Int64("chat_id", m.ChatID),
			zap.Int64("server_id", m.ServerID),
			zap.Error(err))
		return
	}
	if err := e.db.TouchChatPreview(m.ChatID, preview(m), m.CreatedAt); err != nil {
		e.logger.Warn("failed to update chat preview", zap.Error(err))
	}
}
