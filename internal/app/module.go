package app

import (
	"bufio"
	"context"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/faustyu/paprika/internal/api"
	"github.com/faustyu/paprika/internal/bus"
	"github.com/faustyu/paprika/internal/config"
	"github.com/faustyu/paprika/internal/identity"
	"github.com/faustyu/paprika/internal/lock"
	"github.com/faustyu/paprika/internal/logging"
	"github.com/faustyu/paprika/internal/outbox"
	"github.com/faustyu/paprika/internal/session"
	"github.com/faustyu/paprika/internal/store"
	intsync "github.com/faustyu/paprika/internal/sync"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	SessionName string
	ChatID      int64 // chat to activate on start; 0 = none
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideSessionConfig,
			provideStore,
			provideClient,
			provideResolver,
			provideReconciler,
			provideEngine,
			providePipeline,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideSessionConfig(p Params) (*config.Session, error) {
	return config.LoadSession(session.SessionConfigPath(p.SessionName))
}

func provideStore(p Params, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := store.Open(dbPath, b)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(sess *config.Session) *api.Client {
	return api.NewClient(sess)
}

func provideResolver(client *api.Client, db *store.DB, logger *zap.Logger) *identity.Resolver {
	return identity.NewResolver(client, db, logger)
}

func provideReconciler(db *store.DB, client *api.Client, resolver *identity.Resolver, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, client, resolver, logger)
}

func provideEngine(db *store.DB, resolver *identity.Resolver, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, resolver, b, logger)
}

func providePipeline(db *store.DB, client *api.Client, resolver *identity.Resolver, b *bus.Bus, logger *zap.Logger) *outbox.Pipeline {
	return outbox.NewPipeline(db, client, resolver, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, db *store.DB, client *api.Client,
	rec *intsync.Reconciler, engine *intsync.Engine, pipe *outbox.Pipeline,
	b *bus.Bus, lk *lock.Lock, logger *zap.Logger) {

	var chat *intsync.Session
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The engine must consume feed events before any session opens
			// its feed, or early pushes would be dropped.
			engine.Start(context.Background())

			go func() {
				ctx := context.Background()
				if err := rec.RefreshChats(ctx); err != nil {
					logger.Warn("chat list refresh failed", zap.Error(err))
				}
				chats, err := db.ListChats(50, 0)
				if err != nil {
					logger.Warn("failed to read chat list", zap.Error(err))
					return
				}
				logger.Info("chat list ready", zap.Int("chats", len(chats)))
			}()

			if p.ChatID != 0 {
				s, err := intsync.OpenSession(context.Background(), p.ChatID, db, client, rec, b, logger)
				if err != nil {
					return err
				}
				chat = s
				logger.Info("chat session opened", zap.Int64("chat_id", p.ChatID))
				go tailSnapshots(chat, logger)
				go composeFromStdin(p.ChatID, pipe, logger)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if chat != nil {
				if err := chat.Close(); err != nil {
					logger.Warn("error closing chat session", zap.Error(err))
				}
			}
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// tailSnapshots logs each live snapshot of the active chat. The channel
// closes with the watch, ending the goroutine.
func tailSnapshots(chat *intsync.Session, logger *zap.Logger) {
	for snap := range chat.Messages() {
		if len(snap) == 0 {
			continue
		}
		logger.Info("chat updated",
			zap.Int64("chat_id", chat.ChatID()),
			zap.Int("messages", len(snap)),
			zap.String("latest", snap[0].Content),
			zap.String("status", snap[0].Status))
	}
}

// composeFromStdin turns each stdin line into an optimistic text send on
// the active chat.
func composeFromStdin(chatID int64, pipe *outbox.Pipeline, logger *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if _, err := pipe.SendText(context.Background(), chatID, text); err != nil {
			logger.Error("send failed", zap.Error(err))
		}
	}
}
