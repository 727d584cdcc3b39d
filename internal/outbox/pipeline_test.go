package outbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/faustyu/paprika/internal/api"
	"github.com/faustyu/paprika/internal/bus"
	"github.com/faustyu/paprika/internal/config"
	"github.com/faustyu/paprika/internal/identity"
	"github.com/faustyu/paprika/internal/store"
)

// fakeRemote scripts SendMessage/UploadMedia responses.
type fakeRemote struct {
	mu      sync.Mutex
	sendErr error
	nextID  int64
	sends   []string
	uploads []string
}

func (f *fakeRemote) SendMessage(ctx context.Context, chatID int64, content, msgType string) (*api.MessageDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	f.sends = append(f.sends, content)
	return &api.MessageDTO{
		ID: f.nextID, ChatID: chatID, SenderID: 1,
		Content: content, Type: msgType, Status: store.StatusSent,
		CreatedAt: "2026-08-01T10:00:00Z",
	}, nil
}

func (f *fakeRemote) UploadMedia(ctx context.Context, filename string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, filename)
	return "/media/" + filename, nil
}

func (f *fakeRemote) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func testPipeline(t *testing.T) (*Pipeline, *store.DB, *fakeRemote, *bus.Bus) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":1,"username":"me"}`)
	}))
	t.Cleanup(srv.Close)

	b := bus.New()
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), b)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := api.NewClient(&config.Session{ServerURL: srv.URL, Token: "t"})
	resolver := identity.NewResolver(client, db, zap.NewNop())
	remote := &fakeRemote{}
	return NewPipeline(db, remote, resolver, b, zap.NewNop()), db, remote, b
}

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

func TestSendTextOptimisticInsert(t *testing.T) {
	p, db, _, _ := testPipeline(t)

	lk, err := p.SendText(context.Background(), 5, "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}

	// The provisional record is readable the moment SendText returns.
	m, err := db.GetMessage(lk)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("provisional record missing")
	}
	if m.ServerID != -lk {
		t.Errorf("placeholder server id = %d, want %d", m.ServerID, -lk)
	}
	if m.Status != store.StatusSent || !m.IsMe || m.Content != "hello" {
		t.Errorf("unexpected provisional record: %+v", m)
	}
}

func TestSendTextConfirmReplacesInPlace(t *testing.T) {
	p, db, _, b := testPipeline(t)
	ch, unsub := b.Subscribe("outbox.", 16)
	defer unsub()

	lk, err := p.SendText(context.Background(), 5, "hello")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "outbox.send_ack" {
			t.Fatalf("event kind = %s, want outbox.send_ack", evt.Kind)
		}
		ack := evt.Payload.(SendAck)
		if ack.LocalKey != lk || ack.ServerID != 1 {
			t.Fatalf("unexpected ack: %+v", ack)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no send ack")
	}

	msgs, err := db.ListMessages(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want 1 (confirm replaces, never appends)", len(msgs))
	}
	if msgs[0].LocalKey != lk || msgs[0].ServerID != 1 {
		t.Errorf("confirmed record = %+v", msgs[0])
	}
}

func TestSendTextFailureMarksFailed(t *testing.T) {
	p, db, remote, b := testPipeline(t)
	remote.setSendErr(errors.New("backend down"))
	ch, unsub := b.Subscribe("outbox.", 16)
	defer unsub()

	lk, err := p.SendText(context.Background(), 5, "hello")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "outbox.send_failed" {
			t.Fatalf("event kind = %s, want outbox.send_failed", evt.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no failure event")
	}

	m, _ := db.GetMessage(lk)
	if m.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", m.Status)
	}
	if m.ServerID != -lk {
		t.Errorf("failed record should keep its placeholder id, got %d", m.ServerID)
	}
}

func TestSendImageUploadsThenSubmits(t *testing.T) {
	p, db, remote, b := testPipeline(t)
	ch, unsub := b.Subscribe("outbox.", 16)
	defer unsub()

	lk, err := p.SendImage(context.Background(), 5, "photo.png", []byte("pngbytes"))
	if err != nil {
		t.Fatal(err)
	}

	m, _ := db.GetMessage(lk)
	if m.Status != store.StatusUploading || m.Type != store.TypeImage {
		t.Fatalf("provisional image record = %+v", m)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "outbox.send_ack" {
			t.Fatalf("event kind = %s", evt.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no ack")
	}

	remote.mu.Lock()
	uploads, sends := remote.uploads, remote.sends
	remote.mu.Unlock()
	if len(uploads) != 1 || uploads[0] != "photo.png" {
		t.Errorf("uploads = %v", uploads)
	}
	if len(sends) != 1 || sends[0] != "/media/photo.png" {
		t.Errorf("sends = %v, want the uploaded URL", sends)
	}

	m, _ = db.GetMessage(lk)
	if m.Content != "/media/photo.png" {
		t.Errorf("confirmed content = %q, want uploaded URL", m.Content)
	}
}

func TestRetryFailedSend(t *testing.T) {
	p, db, remote, b := testPipeline(t)
	remote.setSendErr(errors.New("backend down"))
	ch, unsub := b.Subscribe("outbox.", 16)
	defer unsub()

	lk, err := p.SendText(context.Background(), 5, "hello")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "failure", func() bool {
		m, _ := db.GetMessage(lk)
		return m.Status == store.StatusFailed
	})
	<-ch // drain the failure event

	remote.setSendErr(nil)
	if err := p.Retry(context.Background(), lk); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "outbox.send_ack" {
			t.Fatalf("event kind = %s, want outbox.send_ack", evt.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry never acked")
	}

	msgs, _ := db.ListMessages(5)
	if len(msgs) != 1 {
		t.Fatalf("retry produced %d rows, want 1", len(msgs))
	}
	if msgs[0].LocalKey != lk || msgs[0].ServerID <= 0 {
		t.Errorf("retried record = %+v", msgs[0])
	}
}

func TestRetryRejectsNonFailed(t *testing.T) {
	p, db, _, _ := testPipeline(t)

	lk, err := p.SendText(context.Background(), 5, "hello")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "confirm", func() bool {
		m, _ := db.GetMessage(lk)
		return m.ServerID > 0
	})

	if err := p.Retry(context.Background(), lk); err == nil {
		t.Error("Retry on a confirmed message should fail")
	}
	if err := p.Retry(context.Background(), 9999); err == nil {
		t.Error("Retry on an unknown key should fail")
	}
}
