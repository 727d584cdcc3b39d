package identity

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/faustyu/paprika/internal/api"
	"github.com/faustyu/paprika/internal/store"
)

// Resolver answers "is this sender me?". The authenticated user's ID is
// fetched from the backend once and cached for the life of the process;
// message ownership never changes mid-session.
type Resolver struct {
	client *api.Client
	db     *store.DB
	logger *zap.Logger

	mu     sync.Mutex
	loaded bool
	userID int64
}

func NewResolver(client *api.Client, db *store.DB, logger *zap.Logger) *Resolver {
	return &Resolver{
		client: client,
		db:     db,
		logger: logger.Named("identity"),
	}
}

// UserID returns the authenticated user's ID, fetching the profile on the
// first call. Concurrent callers share a single fetch.
func (r *Resolver) UserID(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return r.userID, nil
	}

	profile, err := r.client.Me(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch own profile: %w", err)
	}

	if err := r.db.UpsertUser(&store.User{
		ID:       profile.ID,
		Username: profile.Username,
		Avatar:   profile.Avatar,
	}); err != nil {
		r.logger.Warn("failed to cache own profile", zap.Error(err))
	}

	r.userID = profile.ID
	r.loaded = true
	r.logger.Debug("resolved own identity", zap.Int64("user_id", profile.ID))
	return r.userID, nil
}

// IsMe reports whether senderID is the authenticated user.
func (r *Resolver) IsMe(ctx context.Context, senderID int64) (bool, error) {
	id, err := r.UserID(ctx)
	if err != nil {
		return false, err
	}
	return senderID == id, nil
}
