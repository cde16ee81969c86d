package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/InWeCrypto/keytool/internal/envelope"
)

// DialPolicy bounds the reconnect attempts made by DialWebSocket.
type DialPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

func DefaultDialPolicy() DialPolicy {
	return DialPolicy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      10 * time.Second,
	}
}

// WebSocket carries one envelope per text frame.
type WebSocket struct {
	logger *slog.Logger
	conn   *websocket.Conn

	wmu sync.Mutex

	in     chan envelope.Envelope
	done   chan struct{}
	stop   chan struct{}
	closer sync.Once
}

// DialWebSocket connects to a host's /bridge endpoint, retrying with
// exponential backoff while the host is starting up.
func DialWebSocket(ctx context.Context, logger *slog.Logger, rawURL string, policy DialPolicy) (*WebSocket, error) {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := 0
	dial := func() (*websocket.Conn, error) {
		attempts++
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, backoff.Permanent(fmt.Errorf("dial %s: status %d", rawURL, resp.StatusCode))
			}
			logger.Debug("host dial failed", "url", rawURL, "attempt", attempts, "err", err)
			return nil, err
		}
		return conn, nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval

	conn, err := backoff.Retry(ctx, dial,
		backoff.WithBackOff(eb),
		backoff.WithMaxElapsedTime(policy.MaxElapsed),
	)
	if err != nil {
		return nil, fmt.Errorf("connect host %s: %w", rawURL, err)
	}
	logger.Info("connected to host", "url", rawURL, "attempts", attempts)
	return NewWebSocket(logger, conn), nil
}

// NewWebSocket wraps an established connection, client or server side.
func NewWebSocket(logger *slog.Logger, conn *websocket.Conn) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	conn.SetReadLimit(maxLineBytes)
	w := &WebSocket{
		logger: logger,
		conn:   conn,
		in:     make(chan envelope.Envelope, 16),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocket) readLoop() {
	defer close(w.done)
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Debug("websocket read ended", "err", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		env, err := envelope.Decode(data)
		if err != nil {
			w.logger.Warn("dropping invalid envelope", "err", err)
			continue
		}
		select {
		case w.in <- env:
		case <-w.stop:
			return
		}
	}
}

func (w *WebSocket) Send(ctx context.Context, env envelope.Envelope) error {
	line, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	select {
	case <-w.done:
		return ErrClosed
	case <-w.stop:
		return ErrClosed
	default:
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = w.conn.SetWriteDeadline(dl)
		defer func() { _ = w.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, line); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrClosed
		}
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (w *WebSocket) Receive(ctx context.Context) (envelope.Envelope, error) {
	select {
	case env := <-w.in:
		return env, nil
	case <-w.done:
		select {
		case env := <-w.in:
			return env, nil
		default:
			return envelope.Envelope{}, ErrClosed
		}
	case <-w.stop:
		return envelope.Envelope{}, ErrClosed
	case <-ctx.Done():
		return envelope.Envelope{}, ctx.Err()
	}
}

func (w *WebSocket) Close() error {
	var err error
	w.closer.Do(func() {
		close(w.stop)
		w.wmu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.wmu.Unlock()
		err = w.conn.Close()
	})
	return err
}

// Upgrader accepts front-end connections on the host side. Browser pages
// from other origins are refused.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     LocalOrigin,
}

// LocalOrigin accepts requests without an Origin header (non-browser
// clients) and requests from a loopback origin.
func LocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
