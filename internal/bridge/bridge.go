// Package bridge turns a front-end action into a single in-flight request to
// the host and routes the host's answer back to the caller.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/InWeCrypto/keytool/internal/audit"
	"github.com/InWeCrypto/keytool/internal/envelope"
	"github.com/InWeCrypto/keytool/internal/loader"
	"github.com/InWeCrypto/keytool/internal/transport"
)

const DefaultTimeout = 30 * time.Second

// Display is the identity surface updated after a successful derivation.
type Display interface {
	ShowIdentity(address string)
}

// Inbound receives envelopes that are not responses to a pending request.
type Inbound interface {
	Dispatch(ctx context.Context, env envelope.Envelope)
}

type Options struct {
	Display  Display
	Listener Inbound
	Audit    *audit.Logger
	Logger   *slog.Logger
	Timeout  time.Duration
}

type Bridge struct {
	conn     transport.Conn
	state    *loader.State
	display  Display
	listener Inbound
	audit    *audit.Logger
	logger   *slog.Logger
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]chan envelope.Envelope

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

// New wires a bridge to conn. state must already be initialized.
func New(conn transport.Conn, state *loader.State, opts Options) (*Bridge, error) {
	if conn == nil {
		return nil, fmt.Errorf("bridge: nil connection")
	}
	if state == nil || !state.Initialized() {
		return nil, loader.ErrNotInitialized
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Bridge{
		conn:     conn,
		state:    state,
		display:  opts.Display,
		listener: opts.Listener,
		audit:    opts.Audit,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		pending:  map[string]chan envelope.Envelope{},
		closed:   make(chan struct{}),
	}, nil
}

// Start runs the receive loop until ctx ends or the channel closes.
func (b *Bridge) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		go b.receiveLoop(ctx)
	})
}

// Done is closed once the host channel is gone.
func (b *Bridge) Done() <-chan struct{} {
	return b.closed
}

func (b *Bridge) Close() error {
	err := b.conn.Close()
	b.markClosed()
	return err
}

// Send dispatches env and waits for the matching response. It returns the
// response payload on success. Every failure raises exactly one error
// notification, and busy is cleared before Send returns on all paths.
func (b *Bridge) Send(ctx context.Context, env envelope.Envelope) (string, error) {
	action := env.Action()
	if !action.IsRequest() {
		b.fail(env.Name, "", audit.OutcomeRejected, fmt.Sprintf("cannot send %q to the host", env.Name))
		return "", fmt.Errorf("%w: %q", ErrNotRequest, env.Name)
	}
	if err := b.state.Acquire(); err != nil {
		if errors.Is(err, loader.ErrBusy) {
			b.fail(action.String(), "", audit.OutcomeBusy, "Please wait for the current request to finish")
			return "", ErrBusy
		}
		return "", err
	}
	defer b.state.Hide()

	select {
	case <-b.closed:
		b.fail(action.String(), "", audit.OutcomeClosed, "Host connection is closed")
		return "", ErrChannelClosed
	default:
	}

	env.Version = envelope.Version
	env.ID = uuid.NewString()
	env.ReplyTo = ""

	ch := make(chan envelope.Envelope, 1)
	b.mu.Lock()
	b.pending[env.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, env.ID)
		b.mu.Unlock()
	}()

	if err := b.conn.Send(ctx, env); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			b.markClosed()
			b.fail(action.String(), env.ID, audit.OutcomeClosed, "Host connection is closed")
			return "", ErrChannelClosed
		}
		b.fail(action.String(), env.ID, audit.OutcomeError, "Could not reach the host: "+err.Error())
		return "", fmt.Errorf("send %s: %w", action, err)
	}
	b.audit.Append(audit.Event{Source: "bridge", Type: "request.sent", Action: action.String(), CorrelationID: env.ID})
	b.logger.Debug("request sent", "action", action.String(), "id", env.ID)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return b.resolve(env, resp)
	case <-timer.C:
		b.fail(action.String(), env.ID, audit.OutcomeTimeout, "The host did not answer in time")
		return "", ErrTimeout
	case <-b.closed:
		// The loop may have delivered just before closing.
		select {
		case resp := <-ch:
			return b.resolve(env, resp)
		default:
		}
		b.fail(action.String(), env.ID, audit.OutcomeClosed, "Host connection is closed")
		return "", ErrChannelClosed
	case <-ctx.Done():
		b.fail(action.String(), env.ID, audit.OutcomeCancelled, "Request cancelled")
		return "", ctx.Err()
	}
}

func (b *Bridge) resolve(req envelope.Envelope, resp envelope.Envelope) (addr string, err error) {
	text := resp.Text()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("display panicked", "id", req.ID, "panic", r)
			b.fail(req.Name, req.ID, audit.OutcomeError, "Could not show the derived identity")
			addr, err = "", fmt.Errorf("%w: %v", ErrDisplay, r)
		}
	}()
	outcome := audit.OutcomeOK
	if resp.Action() == envelope.ActionError {
		outcome = audit.OutcomeHostError
	}
	b.audit.Append(audit.Event{
		Source:        "bridge",
		Type:          "response.received",
		Action:        req.Name,
		Outcome:       outcome,
		CorrelationID: resp.ID,
		CausationID:   req.ID,
	})
	if resp.Action() == envelope.ActionError {
		b.state.Error(text)
		return "", &HostError{Message: text}
	}
	if b.display != nil {
		b.display.ShowIdentity(text)
	}
	return text, nil
}

// fail records a failed request and raises its single error notification.
func (b *Bridge) fail(action string, requestID string, outcome string, msg string) {
	b.audit.Append(audit.Event{
		Source:      "bridge",
		Type:        "request.failed",
		Action:      action,
		Outcome:     outcome,
		Detail:      msg,
		CausationID: requestID,
	})
	b.state.Error(msg)
}

func (b *Bridge) receiveLoop(ctx context.Context) {
	defer b.markClosed()
	for {
		env, err := b.conn.Receive(ctx)
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) && ctx.Err() == nil {
				b.logger.Warn("host receive failed", "err", err)
			}
			return
		}
		if env.IsResponse() {
			b.deliver(env)
			continue
		}
		b.audit.Append(audit.Event{Source: "bridge", Type: "push.received", Action: env.Name, CorrelationID: env.ID})
		if b.listener != nil {
			b.listener.Dispatch(ctx, env)
		}
	}
}

func (b *Bridge) deliver(env envelope.Envelope) {
	key := strings.TrimSpace(env.ReplyTo)
	b.mu.Lock()
	ch, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("dropping stale response", "reply_to", key, "name", env.Name)
		b.audit.Append(audit.Event{Source: "bridge", Type: "response.stale", Action: env.Name, CorrelationID: env.ID, CausationID: key})
		return
	}
	ch <- env
}

func (b *Bridge) markClosed() {
	b.closeOnce.Do(func() { close(b.closed) })
}
