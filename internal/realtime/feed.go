package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/faustyu/paprika/internal/bus"
	"github.com/faustyu/paprika/internal/status"
)

// Feed maintains the websocket connection to the backend's realtime
// endpoint, decodes incoming frames and publishes them on the bus as
// "rt.message" and "rt.status" events. A dropped connection is re-dialed
// with backed-off delays; every successful (re)connect runs the OnOpen
// hook so callers can repair whatever was missed while offline.
type Feed struct {
	url     string
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	recon   *reconnector
	onOpen  func(context.Context)

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool
	done   chan struct{}
}

// NewFeed creates a feed for the given websocket URL. The URL usually
// comes from api.Client.WSURL.
func NewFeed(url string, b *bus.Bus, m *status.Machine, logger *zap.Logger) *Feed {
	return &Feed{
		url:     url,
		bus:     b,
		machine: m,
		logger:  logger.Named("feed"),
		recon:   newReconnector(time.Second, 30*time.Second),
		done:    make(chan struct{}),
	}
}

// OnOpen registers a hook run on every successful connect, including
// reconnects. Must be called before Connect.
func (f *Feed) OnOpen(h func(context.Context)) {
	f.onOpen = h
}

// Connect starts the feed's connect/read/reconnect loop in the background.
// It returns immediately; connection state is observable through the
// status machine and its bus events.
func (f *Feed) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	go f.run(ctx)
}

// Close tears the feed down for good. Idempotent.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	conn := f.conn
	f.conn = nil
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client close")
	}
	if err := f.machine.Transition(status.Closed); err != nil {
		f.logger.Debug("close transition", zap.Error(err))
	}
	if cancel != nil {
		// The run loop only exists once Connect has been called.
		<-f.done
	}
	return nil
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)

	for {
		if f.isClosed() || ctx.Err() != nil {
			return
		}
		if err := f.machine.Transition(status.Connecting); err != nil {
			// Already closed.
			return
		}

		conn, _, err := websocket.Dial(ctx, f.url, nil)
		if err != nil {
			if f.isClosed() || ctx.Err() != nil {
				return
			}
			f.logger.Warn("feed dial failed", zap.Error(err))
			if !f.backoff(ctx) {
				return
			}
			continue
		}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "client close")
			return
		}
		f.conn = conn
		f.mu.Unlock()

		f.recon.markConnected()
		if err := f.machine.Transition(status.Open); err != nil {
			return
		}
		f.logger.Info("feed connected")

		if f.onOpen != nil {
			go f.onOpen(ctx)
		}

		err = f.readLoop(ctx, conn)
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()

		if f.isClosed() || ctx.Err() != nil {
			return
		}
		f.logger.Warn("feed dropped", zap.Error(err))
		if !f.backoff(ctx) {
			return
		}
	}
}

// readLoop reads frames until the connection fails. Frames that fail to
// decode are logged and dropped; the connection stays up.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		evt, err := Decode(data)
		if err != nil {
			if errors.Is(err, ErrUnknownEventType) {
				f.logger.Debug("skipping feed frame", zap.Error(err))
			} else {
				f.logger.Warn("rejecting malformed feed frame", zap.Error(err))
			}
			continue
		}

		switch e := evt.(type) {
		case *MessageEvent:
			f.bus.Emit("rt.message", *e)
		case *StatusEvent:
			f.bus.Emit("rt.status", *e)
		}
	}
}

// backoff transitions to Reconnecting and waits for the next delay.
// Returns false when the feed is shutting down.
func (f *Feed) backoff(ctx context.Context) bool {
	if err := f.machine.Transition(status.Reconnecting); err != nil {
		return false
	}
	delay := f.recon.nextDelay()
	f.logger.Info("feed reconnecting", zap.Duration("delay", delay))

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return !f.isClosed()
	}
}

func (f *Feed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
