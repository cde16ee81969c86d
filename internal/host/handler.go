// Package host is the reference host side of the bridge protocol: it answers
// derivation requests and pushes host-initiated messages.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/InWeCrypto/keytool/internal/envelope"
	"github.com/InWeCrypto/keytool/internal/transport"
)

const (
	AboutHTML = `<h1>keytool</h1><p>Derive an address from a keystore file or a mnemonic phrase.</p>`
	Greeting  = "Don't forget to check out the menu!"
)

type Handler struct {
	Deriver Deriver
	Logger  *slog.Logger
}

func NewHandler(d Deriver, logger *slog.Logger) *Handler {
	if d == nil {
		d = EVMDeriver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Deriver: d, Logger: logger}
}

// Handle answers one request with a result or error reply. Secrets never
// reach the log.
func (h *Handler) Handle(ctx context.Context, req envelope.Envelope) envelope.Envelope {
	action := req.Action()
	if !action.IsRequest() {
		return envelope.Reply(req, envelope.ActionError, fmt.Sprintf("unknown action %q", strings.TrimSpace(req.Name)))
	}
	pair, err := req.Pair()
	if err != nil {
		return envelope.Reply(req, envelope.ActionError, err.Error())
	}

	var id Identity
	switch action {
	case envelope.ActionFromKeystore:
		id, err = h.Deriver.FromKeystore(ctx, pair.Secret, pair.Parameter)
	case envelope.ActionFromMnemonic:
		id, err = h.Deriver.FromMnemonic(ctx, pair.Secret, pair.Parameter)
	}
	if err != nil {
		// The message can quote words of the phrase; log only its class.
		h.Logger.Info("derivation failed", "action", action.String(), "id", req.ID, "reason", failureReason(err))
		return envelope.Reply(req, envelope.ActionError, err.Error())
	}
	h.Logger.Info("derived identity", "action", action.String(), "id", req.ID, "address", id.Address, "public_key", id.PublicKey)
	return envelope.Reply(req, envelope.ActionResult, id.Address)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return "empty input"
	case errors.Is(err, ErrInvalidMnemonic):
		return "invalid mnemonic"
	case errors.Is(err, ErrUnsupportedLanguage):
		return "unsupported language"
	case errors.Is(err, ErrDecryptKeystore):
		return "keystore decrypt"
	default:
		return "other"
	}
}

type ServeOptions struct {
	// Greet pushes a check.out.menu advisory when the session starts.
	Greet bool
	// AboutOnStart pushes the about dialog when the session starts.
	AboutOnStart bool
}

// Serve answers requests on conn until it closes or ctx ends.
func (h *Handler) Serve(ctx context.Context, conn transport.Conn, opts ServeOptions) error {
	push := Pusher{Conn: conn}
	if opts.Greet {
		if err := push.Advise(ctx, Greeting); err != nil {
			return fmt.Errorf("greet: %w", err)
		}
	}
	if opts.AboutOnStart {
		if _, err := push.About(ctx, AboutHTML); err != nil {
			return fmt.Errorf("push about: %w", err)
		}
	}
	for {
		env, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				h.Logger.Info("front-end disconnected")
				return nil
			}
			return err
		}
		if env.IsResponse() {
			h.Logger.Debug("acknowledged", "name", env.Name, "reply_to", env.ReplyTo, "payload", env.Text())
			continue
		}
		reply := h.Handle(ctx, env)
		if err := conn.Send(ctx, reply); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reply %s: %w", env.ID, err)
		}
	}
}

// Pusher sends host-initiated messages.
type Pusher struct {
	Conn transport.Conn
}

// About asks the front-end to open its about dialog and returns the push id
// the acknowledgment will reply to.
func (p Pusher) About(ctx context.Context, html string) (string, error) {
	env := envelope.NewPush(envelope.ActionAbout, html)
	if err := p.Conn.Send(ctx, env); err != nil {
		return "", err
	}
	return env.ID, nil
}

func (p Pusher) Advise(ctx context.Context, text string) error {
	return p.Conn.Send(ctx, envelope.NewPush(envelope.ActionCheckOutMenu, text))
}
