package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/InWeCrypto/keytool/internal/envelope"
)

const maxLineBytes = 8 << 20 // 8 MiB, keystores are small but HTML about pages may not be

// Stream speaks JSONL envelopes over a reader/writer pair, e.g. the stdio of
// a child process or of the host itself.
type Stream struct {
	logger *slog.Logger

	wmu sync.Mutex
	w   io.Writer

	in      chan envelope.Envelope
	done    chan struct{}
	stop    chan struct{}
	readErr error

	closeOnce sync.Once
	closers   []io.Closer
}

// NewStream starts reading r immediately. closers run on Close.
func NewStream(logger *slog.Logger, r io.Reader, w io.Writer, closers ...io.Closer) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{
		logger:  logger,
		w:       w,
		in:      make(chan envelope.Envelope, 16),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		closers: closers,
	}
	go s.readLoop(r)
	return s
}

func (s *Stream) readLoop(r io.Reader) {
	defer close(s.done)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := envelope.Decode(line)
		if err != nil {
			s.logger.Warn("dropping invalid envelope", "err", err)
			continue
		}
		select {
		case s.in <- env:
		case <-s.stop:
			return
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.readErr = err
	}
}

func (s *Stream) Send(ctx context.Context, env envelope.Envelope) error {
	line, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	select {
	case <-s.done:
		return ErrClosed
	case <-s.stop:
		return ErrClosed
	default:
	}
	if _, err := s.w.Write(line); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
			return ErrClosed
		}
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

func (s *Stream) Receive(ctx context.Context) (envelope.Envelope, error) {
	select {
	case env := <-s.in:
		return env, nil
	case <-s.done:
		select {
		case env := <-s.in:
			return env, nil
		default:
		}
		if s.readErr != nil {
			s.logger.Debug("stream read ended", "err", s.readErr)
		}
		return envelope.Envelope{}, ErrClosed
	case <-s.stop:
		return envelope.Envelope{}, ErrClosed
	case <-ctx.Done():
		return envelope.Envelope{}, ctx.Err()
	}
}

func (s *Stream) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		close(s.stop)
		for _, c := range s.closers {
			if c == nil {
				continue
			}
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
