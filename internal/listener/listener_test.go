package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalTrader/internal/domain"
	"signalTrader/internal/ports"
)

type session struct {
	key     string
	handler func(*domain.OrderUpdate)
	doneC   chan struct{}
	stopC   chan struct{}
}

// mockStream implements ports.UserStream with controllable sessions.
type mockStream struct {
	mu           sync.Mutex
	created      int
	createErrs   int // fail this many CreateListenKey calls first
	keepaliveErr error
	keepalives   int
	closedKeys   []string
	sessions     []*session
}

func (m *mockStream) CreateListenKey(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErrs > 0 {
		m.createErrs--
		return "", ports.ErrConnectionFailed
	}
	m.created++
	return fmt.Sprintf("key-%d", m.created), nil
}

func (m *mockStream) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keepalives++
	return m.keepaliveErr
}

func (m *mockStream) CloseListenKey(ctx context.Context, listenKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedKeys = append(m.closedKeys, listenKey)
	return nil
}

func (m *mockStream) ServeUserData(listenKey string, handler func(*domain.OrderUpdate), errHandler func(error)) (chan struct{}, chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &session{key: listenKey, handler: handler, doneC: make(chan struct{}), stopC: make(chan struct{})}
	m.sessions = append(m.sessions, s)
	return s.doneC, s.stopC, nil
}

func (m *mockStream) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *mockStream) session(i int) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[i]
}

func (m *mockStream) closed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closedKeys...)
}

func newTestListener(t *testing.T, stream *mockStream, keepalive time.Duration) *Listener {
	t.Helper()
	l, err := New(Config{
		Stream:            stream,
		Logger:            ports.NopLogger{},
		KeepaliveInterval: keepalive,
		ReconnectDelay:    5 * time.Millisecond,
		CallTimeout:       time.Second,
	})
	require.NoError(t, err)
	return l
}

func runListener(t *testing.T, l *Listener) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	return cancel, errCh
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{Logger: ports.NopLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = New(Config{Stream: &mockStream{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestListener_ForwardsFillsOnly(t *testing.T) {
	stream := &mockStream{}
	l := newTestListener(t, stream, time.Hour)
	cancel, errCh := runListener(t, l)
	defer cancel()

	require.Eventually(t, func() bool { return stream.sessionCount() == 1 }, time.Second, 5*time.Millisecond)
	s := stream.session(0)

	s.handler(&domain.OrderUpdate{OrderID: 1, Status: domain.OrderStatusNew})
	s.handler(&domain.OrderUpdate{OrderID: 2, Status: domain.OrderStatusPartiallyFilled, ExecutionType: domain.ExecutionTypeTrade})
	s.handler(&domain.OrderUpdate{OrderID: 3, Status: domain.OrderStatusFilled, FilledQuantity: decimal.NewFromInt(5)})
	s.handler(&domain.OrderUpdate{OrderID: 4, Status: domain.OrderStatusNew, ExecutionType: domain.ExecutionTypeCalculated})

	got := []int64{(<-l.Updates()).OrderID, (<-l.Updates()).OrderID}
	assert.Equal(t, []int64{3, 4}, got)
	select {
	case u := <-l.Updates():
		t.Fatalf("unexpected update %d", u.OrderID)
	default:
	}
	assert.True(t, l.Connected())

	cancel()
	require.NoError(t, <-errCh)
	assert.Contains(t, stream.closed(), "key-1")
	assert.False(t, l.Connected())
	select {
	case <-s.stopC:
	default:
		t.Fatal("stream was not stopped on shutdown")
	}
}

func TestListener_ReconnectsWhenStreamEnds(t *testing.T) {
	stream := &mockStream{}
	l := newTestListener(t, stream, time.Hour)
	cancel, errCh := runListener(t, l)
	defer cancel()

	require.Eventually(t, func() bool { return stream.sessionCount() == 1 }, time.Second, 5*time.Millisecond)
	close(stream.session(0).doneC)

	require.Eventually(t, func() bool { return stream.sessionCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "key-2", stream.session(1).key)
	assert.Contains(t, stream.closed(), "key-1")

	// The new session keeps delivering.
	stream.session(1).handler(&domain.OrderUpdate{OrderID: 9, Status: domain.OrderStatusFilled})
	assert.Equal(t, int64(9), (<-l.Updates()).OrderID)

	cancel()
	require.NoError(t, <-errCh)
}

func TestListener_KeepaliveFailureReconnects(t *testing.T) {
	stream := &mockStream{keepaliveErr: errors.New("listen key expired")}
	l := newTestListener(t, stream, 20*time.Millisecond)
	cancel, errCh := runListener(t, l)
	defer cancel()

	require.Eventually(t, func() bool { return stream.sessionCount() >= 2 }, time.Second, 5*time.Millisecond)
	first := stream.session(0)
	select {
	case <-first.stopC:
	default:
		t.Fatal("old stream not stopped before reconnect")
	}
	assert.Contains(t, stream.closed(), "key-1")

	cancel()
	require.NoError(t, <-errCh)
}

func TestListener_KeepaliveSuccessKeepsSession(t *testing.T) {
	stream := &mockStream{}
	l := newTestListener(t, stream, 10*time.Millisecond)
	cancel, errCh := runListener(t, l)
	defer cancel()

	require.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.keepalives >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, stream.sessionCount())

	cancel()
	require.NoError(t, <-errCh)
}

func TestListener_RetriesFailedConnect(t *testing.T) {
	stream := &mockStream{createErrs: 2}
	l := newTestListener(t, stream, time.Hour)
	cancel, errCh := runListener(t, l)
	defer cancel()

	require.Eventually(t, func() bool { return stream.sessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "key-1", stream.session(0).key)

	cancel()
	require.NoError(t, <-errCh)
}
