package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/faustyu/paprika/internal/api"
	"github.com/faustyu/paprika/internal/bus"
	"github.com/faustyu/paprika/internal/identity"
	"github.com/faustyu/paprika/internal/store"
)

// Submitter is the remote side of a send. *api.Client satisfies it.
type Submitter interface {
	SendMessage(ctx context.Context, chatID int64, content, msgType string) (*api.MessageDTO, error)
	UploadMedia(ctx context.Context, filename string, data []byte) (string, error)
}

// SendAck is the payload of "outbox.send_ack" events.
type SendAck struct {
	SendID   string
	LocalKey int64
	ChatID   int64
	ServerID int64
}

// SendFailure is the payload of "outbox.send_failed" events.
type SendFailure struct {
	SendID   string
	LocalKey int64
	ChatID   int64
	Err      string
}

// Pipeline performs optimistic sends: the provisional record lands in the
// cache before any network I/O, the caller gets its local key back
// immediately, and a background submit later confirms the same record in
// place or marks it failed. Submits run on a detached context so an
// in-flight send survives the UI closing the chat.
type Pipeline struct {
	db       *store.DB
	remote   Submitter
	resolver *identity.Resolver
	bus      *bus.Bus
	logger   *zap.Logger
	timeout  time.Duration
}

func NewPipeline(db *store.DB, remote Submitter, resolver *identity.Resolver, b *bus.Bus, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		db:       db,
		remote:   remote,
		resolver: resolver,
		bus:      b,
		logger:   logger.Named("outbox"),
		timeout:  60 * time.Second,
	}
}

// SendText writes a provisional text message and starts its submit.
// Returns the record's local key as soon as the cache write commits.
func (p *Pipeline) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	localKey, err := p.insertProvisional(ctx, chatID, text, store.TypeText, store.StatusSent)
	if err != nil {
		return 0, err
	}
	go p.submit(context.WithoutCancel(ctx), localKey, chatID, text, store.TypeText, nil)
	return localKey, nil
}

// SendImage writes a provisional image message (status "uploading",
// content is the local file name) and starts the upload+submit chain.
func (p *Pipeline) SendImage(ctx context.Context, chatID int64, filename string, data []byte) (int64, error) {
	localKey, err := p.insertProvisional(ctx, chatID, filename, store.TypeImage, store.StatusUploading)
	if err != nil {
		return 0, err
	}
	go p.submit(context.WithoutCancel(ctx), localKey, chatID, filename, store.TypeImage, data)
	return localKey, nil
}

// Retry re-runs the submit for a failed send. The record keeps its local
// key; a retry is a second attempt at the same message, not a new one.
func (p *Pipeline) Retry(ctx context.Context, localKey int64) error {
	m, err := p.db.GetMessage(localKey)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("retry: local key %d not found", localKey)
	}
	if m.Status != store.StatusFailed {
		return fmt.Errorf("retry: message %d is %q, only failed sends can be retried", localKey, m.Status)
	}
	if m.Type == store.TypeImage && !api.IsMediaRef(m.Content) {
		// The upload never finished and the bytes are gone with the
		// original call; the caller has to resend the image.
		return fmt.Errorf("retry: image %d was never uploaded, resend it", localKey)
	}

	if err := p.db.MarkMessageRetrying(localKey); err != nil {
		return err
	}

	go p.submit(context.WithoutCancel(ctx), localKey, m.ChatID, m.Content, m.Type, nil)
	return nil
}

func (p *Pipeline) insertProvisional(ctx context.Context, chatID int64, content, msgType, status string) (int64, error) {
	senderID, err := p.resolver.UserID(ctx)
	if err != nil {
		// Identity can lag behind a cold offline start; IsMe already marks
		// the record as ours, so the insert goes ahead.
		p.logger.Debug("provisional insert without resolved identity", zap.Error(err))
	}
	m := &store.Message{
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Type:      msgType,
		Status:    status,
		CreatedAt: time.Now().Unix(),
		IsMe:      true,
	}
	return p.db.InsertProvisional(m)
}

func (p *Pipeline) submit(ctx context.Context, localKey, chatID int64, content, msgType string, media []byte) {
	sendID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	log := p.logger.With(
		zap.String("send_id", sendID),
		zap.Int64("local_key", localKey),
		zap.Int64("chat_id", chatID))

	body := content
	if msgType == store.TypeImage && media != nil {
		url, err := p.remote.UploadMedia(ctx, content, media)
		if err != nil {
			p.fail(log, sendID, localKey, chatID, fmt.Errorf("upload media: %w", err))
			return
		}
		body = url
	}

	dto, err := p.remote.SendMessage(ctx, chatID, body, msgType)
	if err != nil {
		p.fail(log, sendID, localKey, chatID, err)
		return
	}

	if err := p.db.ConfirmMessage(localKey, dto.ID, dto.Content, dto.Status); err != nil {
		log.Error("failed to confirm sent message", zap.Error(err))
		return
	}
	preview := dto.Content
	if msgType == store.TypeImage {
		preview = "Photo"
	}
	if err := p.db.TouchChatPreview(chatID, preview, dto.CreatedAtUnix()); err != nil {
		log.Warn("failed to update chat preview", zap.Error(err))
	}

	log.Info("send confirmed", zap.Int64("server_id", dto.ID))
	p.bus.Emit("outbox.send_ack", SendAck{
		SendID:   sendID,
		LocalKey: localKey,
		ChatID:   chatID,
		ServerID: dto.ID,
	})
}

func (p *Pipeline) fail(log *zap.Logger, sendID string, localKey, chatID int64, err error) {
	log.Warn("send failed", zap.Error(err))
	if dbErr := p.db.MarkMessageFailed(localKey); dbErr != nil {
		log.Error("failed to mark message failed", zap.Error(dbErr))
	}
	p.bus.Emit("outbox.send_failed", SendFailure{
		SendID:   sendID,
		LocalKey: localKey,
		ChatID:   chatID,
		Err:      err.Error(),
	})
}
