// Package listener owns the private user-data stream and turns it into a channel of order fills.
package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

const (
	DefaultKeepaliveInterval = 30 * time.Minute
	DefaultReconnectDelay    = 5 * time.Second
	defaultBuffer            = 64
	defaultCallTimeout       = 10 * time.Second
)

// Config holds the listener settings.
type Config struct {
	Stream            ports.UserStream
	Logger            ports.Logger
	KeepaliveInterval time.Duration
	ReconnectDelay    time.Duration
	CallTimeout       time.Duration
	Buffer            int
}

// Listener keeps one user-data stream alive and publishes fills and liquidations on Updates.
// Refresh and reconnect run under the same mutex.
type Listener struct {
	stream      ports.UserStream
	logger      ports.Logger
	keepalive   time.Duration
	callTimeout time.Duration
	backoff     *backoff.Backoff
	updates     chan *domain.OrderUpdate

	mu        sync.Mutex
	listenKey string
	stopC     chan struct{}
	doneC     chan struct{}
}

// New creates a Listener. Zero durations fall back to the defaults.
func New(cfg Config) (*Listener, error) {
	if cfg.Stream == nil {
		return nil, fmt.Errorf("user stream is required for listener: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for listener: %w", ports.ErrConfigurationError)
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	return &Listener{
		stream:      cfg.Stream,
		logger:      cfg.Logger,
		keepalive:   cfg.KeepaliveInterval,
		callTimeout: cfg.CallTimeout,
		backoff: &backoff.Backoff{
			Min:    cfg.ReconnectDelay,
			Max:    6 * cfg.ReconnectDelay,
			Factor: 2,
		},
		updates: make(chan *domain.OrderUpdate, cfg.Buffer),
	}, nil
}

// Updates delivers filled and liquidation order updates. It is never closed;
// consumers stop with their own context.
func (l *Listener) Updates() <-chan *domain.OrderUpdate {
	return l.updates
}

// Connected reports whether a stream is currently attached.
func (l *Listener) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doneC != nil
}

// Run connects and keeps the stream alive until ctx is done. Connection problems are
// logged and retried; they never end Run.
func (l *Listener) Run(ctx context.Context) error {
	defer l.shutdown()

	keepalive := time.NewTicker(l.keepalive)
	defer keepalive.Stop()
	retry := time.NewTimer(0)
	defer retry.Stop()

	var done <-chan struct{}
	for {
		select {
		case <-ctx.Done():
			l.logger.Info(ctx, "User stream listener stopping")
			return nil

		case <-retry.C:
			d, err := l.reconnect(ctx)
			if err != nil {
				wait := l.backoff.Duration()
				l.logger.Error(ctx, err, "User stream connect failed, retrying", map[string]interface{}{"retryIn": wait.String()})
				retry.Reset(wait)
				continue
			}
			l.backoff.Reset()
			done = d

		case <-done:
			done = nil
			l.detach()
			wait := l.backoff.Duration()
			l.logger.Warn(ctx, "User stream closed, reconnecting", map[string]interface{}{"retryIn": wait.String()})
			retry.Reset(wait)

		case <-keepalive.C:
			if done == nil {
				continue // reconnect already scheduled
			}
			d, err := l.refresh(ctx)
			if err != nil {
				done = nil
				wait := l.backoff.Duration()
				l.logger.Error(ctx, err, "User stream refresh failed, retrying", map[string]interface{}{"retryIn": wait.String()})
				retry.Reset(wait)
				continue
			}
			done = d
		}
	}
}

// refresh extends the listen key. If that fails the whole session is rebuilt.
func (l *Listener) refresh(ctx context.Context) (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, l.callTimeout)
	err := l.stream.KeepAliveListenKey(callCtx, l.listenKey)
	cancel()
	if err == nil {
		l.logger.Debug(ctx, "Listen key refreshed")
		return l.doneC, nil
	}

	l.logger.Warn(ctx, "Listen key keepalive failed, reconnecting", map[string]interface{}{"error": err.Error()})
	return l.reconnectLocked(ctx)
}

func (l *Listener) reconnect(ctx context.Context) (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reconnectLocked(ctx)
}

// reconnectLocked tears down the current session (if any) and opens a new one.
func (l *Listener) reconnectLocked(ctx context.Context) (<-chan struct{}, error) {
	l.teardownLocked(ctx)

	callCtx, cancel := context.WithTimeout(ctx, l.callTimeout)
	key, err := l.stream.CreateListenKey(callCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("create listen key: %w", err)
	}

	doneC, stopC, err := l.stream.ServeUserData(key, l.handler(ctx), l.onStreamError(ctx))
	if err != nil {
		l.closeKey(ctx, key)
		return nil, fmt.Errorf("serve user data: %w", err)
	}

	l.listenKey, l.stopC, l.doneC = key, stopC, doneC
	l.logger.Info(ctx, "User stream connected")
	return doneC, nil
}

// detach forgets a stream that ended on its own; its key is closed on the next reconnect.
func (l *Listener) detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopC, l.doneC = nil, nil
}

func (l *Listener) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.teardownLocked(context.Background())
}

func (l *Listener) teardownLocked(ctx context.Context) {
	if l.stopC != nil {
		close(l.stopC)
	}
	l.stopC, l.doneC = nil, nil
	if l.listenKey != "" {
		l.closeKey(ctx, l.listenKey)
		l.listenKey = ""
	}
}

func (l *Listener) closeKey(ctx context.Context, key string) {
	// Best effort; the exchange expires abandoned keys on its own.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.callTimeout)
	defer cancel()
	if err := l.stream.CloseListenKey(callCtx, key); err != nil {
		l.logger.Debug(ctx, "Close listen key failed", map[string]interface{}{"error": err.Error()})
	}
}

// handler runs on the stream's goroutine and only forwards; it never touches trades.
func (l *Listener) handler(ctx context.Context) func(*domain.OrderUpdate) {
	return func(u *domain.OrderUpdate) {
		if u == nil || !(u.IsFilled() || u.IsLiquidation()) {
			return
		}
		select {
		case l.updates <- u:
		case <-ctx.Done():
		}
	}
}

func (l *Listener) onStreamError(ctx context.Context) func(error) {
	return func(err error) {
		l.logger.Warn(ctx, "User stream error", map[string]interface{}{"error": err.Error()})
	}
}
