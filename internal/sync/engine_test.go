package sync

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/faustyu/paprika/internal/identity"
	"github.com/faustyu/paprika/internal/realtime"
	"github.com/faustyu/paprika/internal/store"
)

func startEngine(t *testing.T, e *env) {
	t.Helper()
	resolver := identity.NewResolver(e.client, e.db, zap.NewNop())
	eng := NewEngine(e.db, resolver, e.bus, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	t.Cleanup(func() {
		cancel()
		eng.Stop()
	})
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngineAppliesFeedMessage(t *testing.T) {
	e := newEnv(t)
	startEngine(t, e)
	const chatID = 7

	e.bus.Emit("rt.message", realtime.MessageEvent{
		ID: 50, ChatID: chatID, SenderID: 2,
		Content: "pushed", Type: "text", Status: "sent",
		CreatedAt: "2026-08-01T10:00:00Z",
	})

	waitFor(t, "feed message in cache", func() bool {
		msgs, err := e.db.ListMessages(chatID)
		return err == nil && len(msgs) == 1
	})

	msgs, _ := e.db.ListMessages(chatID)
	got := msgs[0]
	if got.ServerID != 50 || got.Content != "pushed" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Status != store.StatusSent {
		t.Errorf("status = %q; live pushes are not promoted", got.Status)
	}
	if got.IsMe {
		t.Error("message from another sender marked IsMe")
	}

	chat, err := e.db.GetChat(chatID)
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil || chat.LastMessagePreview != "pushed" {
		t.Errorf("chat preview not updated: %+v", chat)
	}
}

func TestEngineCachesMessageWithoutIdentity(t *testing.T) {
	e := newEnv(t)
	e.backend.meFail = true
	startEngine(t, e)
	const chatID = 6

	e.bus.Emit("rt.message", realtime.MessageEvent{
		ID: 55, ChatID: chatID, SenderID: testUserID,
		Content: "kept", Type: "text", Status: "sent",
		CreatedAt: "2026-08-01T10:00:00Z",
	})

	// A failed /me degrades ownership, it does not drop the message.
	waitFor(t, "feed message in cache", func() bool {
		msgs, err := e.db.ListMessages(chatID)
		return err == nil && len(msgs) == 1
	})

	msgs, _ := e.db.ListMessages(chatID)
	if msgs[0].Content != "kept" {
		t.Fatalf("unexpected record: %+v", msgs[0])
	}
	if msgs[0].IsMe {
		t.Error("message marked IsMe with identity unresolved")
	}
}

func TestEngineReplayIsIdempotent(t *testing.T) {
	e := newEnv(t)
	startEngine(t, e)
	const chatID = 3

	evt := realtime.MessageEvent{
		ID: 60, ChatID: chatID, SenderID: 2,
		Content: "once", Type: "text", Status: "sent",
		CreatedAt: "2026-08-01T10:00:00Z",
	}
	e.bus.Emit("rt.message", evt)
	e.bus.Emit("rt.message", evt)
	e.bus.Emit("rt.message", evt)

	waitFor(t, "feed message in cache", func() bool {
		msgs, err := e.db.ListMessages(chatID)
		return err == nil && len(msgs) >= 1
	})
	// Give the duplicates a moment to land.
	time.Sleep(100 * time.Millisecond)

	msgs, err := e.db.ListMessages(chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("replayed event produced %d rows, want 1", len(msgs))
	}
}

func TestEngineAppliesStatusReceipt(t *testing.T) {
	e := newEnv(t)
	startEngine(t, e)
	const chatID = 4

	seed := []store.Message{
		{ServerID: 70, ChatID: chatID, SenderID: 1, Content: "m", Type: "text", Status: store.StatusSent, CreatedAt: 100, IsMe: true},
	}
	if err := e.db.InsertBatch(seed); err != nil {
		t.Fatal(err)
	}

	e.bus.Emit("rt.status", realtime.StatusEvent{ChatID: chatID, ID: 70, Status: store.StatusDelivered})

	waitFor(t, "delivered receipt", func() bool {
		msgs, err := e.db.ListMessages(chatID)
		return err == nil && len(msgs) == 1 && msgs[0].Status == store.StatusDelivered
	})

	// A stale receipt arriving late must not regress the status.
	e.bus.Emit("rt.status", realtime.StatusEvent{ChatID: chatID, ID: 70, Status: store.StatusRead})
	waitFor(t, "read receipt", func() bool {
		msgs, err := e.db.ListMessages(chatID)
		return err == nil && msgs[0].Status == store.StatusRead
	})
	e.bus.Emit("rt.status", realtime.StatusEvent{ChatID: chatID, ID: 70, Status: store.StatusSent})
	time.Sleep(100 * time.Millisecond)

	msgs, _ := e.db.ListMessages(chatID)
	if msgs[0].Status != store.StatusRead {
		t.Errorf("status regressed to %q after stale receipt", msgs[0].Status)
	}
}
