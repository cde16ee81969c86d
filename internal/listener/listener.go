package listener

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/InWeCrypto/keytool/internal/envelope"
)

// AckPayload is the body of the reply sent for an acknowledged push.
const AckPayload = "payload"

// Modal is the dialog surface used for "about".
type Modal interface {
	ShowModal(content string)
}

type Notifier interface {
	Info(msg string)
}

// Replier sends acknowledgments back on the host channel.
type Replier interface {
	Send(ctx context.Context, env envelope.Envelope) error
}

type Handler func(ctx context.Context, env envelope.Envelope) error

// Listener dispatches host-initiated envelopes by name. It never touches
// the busy flag.
type Listener struct {
	logger   *slog.Logger
	notifier Notifier
	modal    Modal
	replier  Replier

	mu       sync.RWMutex
	handlers map[string]Handler
}

func New(logger *slog.Logger, notifier Notifier, modal Modal, replier Replier) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		logger:   logger,
		notifier: notifier,
		modal:    modal,
		replier:  replier,
		handlers: map[string]Handler{},
	}
	l.On(envelope.ActionAbout.String(), l.handleAbout)
	l.On(envelope.ActionCheckOutMenu.String(), l.handleCheckOutMenu)
	return l
}

// On registers h for the action name, replacing any previous handler.
func (l *Listener) On(name string, h Handler) {
	name = strings.TrimSpace(name)
	if name == "" || h == nil {
		return
	}
	l.mu.Lock()
	l.handlers[name] = h
	l.mu.Unlock()
}

// Dispatch runs the handler registered for env.Name. Unknown names are
// ignored.
func (l *Listener) Dispatch(ctx context.Context, env envelope.Envelope) {
	l.mu.RLock()
	h, ok := l.handlers[strings.TrimSpace(env.Name)]
	l.mu.RUnlock()
	if !ok {
		l.logger.Debug("ignoring unsolicited message", "name", env.Name, "id", env.ID)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("push handler panicked", "name", env.Name, "panic", r)
		}
	}()
	if err := h(ctx, env); err != nil {
		l.logger.Warn("push handler failed", "name", env.Name, "err", err)
	}
}

func (l *Listener) handleAbout(ctx context.Context, env envelope.Envelope) error {
	if l.modal != nil {
		l.modal.ShowModal(env.Text())
	}
	if l.replier == nil || strings.TrimSpace(env.ID) == "" {
		return nil
	}
	return l.replier.Send(ctx, envelope.Reply(env, envelope.ActionAbout, AckPayload))
}

func (l *Listener) handleCheckOutMenu(_ context.Context, env envelope.Envelope) error {
	if l.notifier != nil {
		l.notifier.Info(env.Text())
	}
	return nil
}
