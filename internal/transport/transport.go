package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/InWeCrypto/keytool/internal/envelope"
)

// ErrClosed is returned once the channel to the peer is gone.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a bidirectional envelope channel to the peer process.
type Conn interface {
	Send(ctx context.Context, env envelope.Envelope) error
	Receive(ctx context.Context) (envelope.Envelope, error)
	Close() error
}

type pipeEnd struct {
	in     <-chan envelope.Envelope
	out    chan<- envelope.Envelope
	closed chan struct{}
	once   *sync.Once
}

// Pipe returns two connected in-memory ends. Closing either end closes both.
func Pipe() (Conn, Conn) {
	a := make(chan envelope.Envelope, 16)
	b := make(chan envelope.Envelope, 16)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: a, out: b, closed: closed, once: once},
		&pipeEnd{in: b, out: a, closed: closed, once: once}
}

func (p *pipeEnd) Send(ctx context.Context, env envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case p.out <- env:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (envelope.Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-p.closed:
		// Drain what was delivered before the close.
		select {
		case env := <-p.in:
			return env, nil
		default:
			return envelope.Envelope{}, ErrClosed
		}
	case <-ctx.Done():
		return envelope.Envelope{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
