package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/faustyu/paprika/internal/api"
	"github.com/faustyu/paprika/internal/config"
	"github.com/faustyu/paprika/internal/store"
)

func testResolver(t *testing.T, handler http.HandlerFunc) (*Resolver, *store.DB) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := api.NewClient(&config.Session{ServerURL: srv.URL, Token: "t"})
	return NewResolver(client, db, zap.NewNop()), db
}

func TestUserIDFetchesOnce(t *testing.T) {
	var calls int32
	r, db := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"id":5,"username":"ana"}`))
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id, err := r.UserID(ctx)
		if err != nil {
			t.Fatalf("UserID: %v", err)
		}
		if id != 5 {
			t.Fatalf("id = %d, want 5", id)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("profile fetched %d times, want 1", got)
	}

	u, err := db.GetUser(5)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u == nil || u.Username != "ana" {
		t.Fatalf("profile not cached: %+v", u)
	}
}

func TestIsMe(t *testing.T) {
	r, _ := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"id":5,"username":"ana"}`))
	})

	ctx := context.Background()
	mine, err := r.IsMe(ctx, 5)
	if err != nil {
		t.Fatalf("IsMe: %v", err)
	}
	if !mine {
		t.Error("IsMe(5) = false, want true")
	}
	other, err := r.IsMe(ctx, 6)
	if err != nil {
		t.Fatalf("IsMe: %v", err)
	}
	if other {
		t.Error("IsMe(6) = true, want false")
	}
}

func TestUserIDErrorNotCached(t *testing.T) {
	var calls int32
	r, _ := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":5,"username":"ana"}`))
	})

	ctx := context.Background()
	if _, err := r.UserID(ctx); err == nil {
		t.Fatal("expected error on first fetch")
	}
	id, err := r.UserID(ctx)
	if err != nil {
		t.Fatalf("UserID after retry: %v", err)
	}
	if id != 5 {
		t.Fatalf("id = %d, want 5", id)
	}
}
