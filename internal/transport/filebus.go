package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/InWeCrypto/keytool/internal/envelope"
)

// FileBusOptions names the append-only JSONL files shared with the peer.
// Out is written by this side and In is read from a remembered offset.
// Ready is touched while this side is polling; PeerReady going stale means
// the peer is gone.
type FileBusOptions struct {
	Out       string
	In        string
	Ready     string
	PeerReady string
	Poll      time.Duration
	Stale     time.Duration
}

// FileBusPaths returns the options for one side of a bus rooted at dir.
// The host reads requests and writes responses; the front-end does the
// opposite.
func FileBusPaths(dir string, hostSide bool) FileBusOptions {
	req := filepath.Join(dir, "requests.jsonl")
	resp := filepath.Join(dir, "responses.jsonl")
	hostReady := filepath.Join(dir, "host.ready")
	uiReady := filepath.Join(dir, "ui.ready")
	if hostSide {
		return FileBusOptions{Out: resp, In: req, Ready: hostReady, PeerReady: uiReady}
	}
	return FileBusOptions{Out: req, In: resp, Ready: uiReady, PeerReady: hostReady}
}

type FileBus struct {
	logger *slog.Logger
	opts   FileBusOptions

	wmu sync.Mutex

	rmu     sync.Mutex
	offset  int64
	pending []envelope.Envelope

	peerSeen atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

func OpenFileBus(logger *slog.Logger, opts FileBusOptions) (*FileBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.Out) == "" || strings.TrimSpace(opts.In) == "" {
		return nil, fmt.Errorf("file bus: in and out paths are required")
	}
	if opts.Poll <= 0 {
		opts.Poll = 200 * time.Millisecond
	}
	if opts.Stale <= 0 {
		opts.Stale = 30 * time.Second
	}
	for _, p := range []string{opts.Out, opts.In} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("file bus dir: %w", err)
		}
		if _, err := os.Stat(p); err != nil {
			if err := os.WriteFile(p, []byte{}, 0o644); err != nil {
				return nil, fmt.Errorf("file bus init %s: %w", p, err)
			}
		}
	}
	b := &FileBus{logger: logger, opts: opts, closed: make(chan struct{})}
	// Records written before this side opened belong to an earlier session.
	if st, err := os.Stat(opts.In); err == nil {
		b.offset = st.Size()
	}
	b.touchReady()
	return b, nil
}

func (b *FileBus) Send(ctx context.Context, env envelope.Envelope) error {
	if b.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	b.wmu.Lock()
	defer b.wmu.Unlock()
	f, err := os.OpenFile(b.opts.Out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("file bus open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("file bus write: %w", err)
	}
	return nil
}

func (b *FileBus) Receive(ctx context.Context) (envelope.Envelope, error) {
	t := time.NewTicker(b.opts.Poll)
	defer t.Stop()
	for {
		if env, ok := b.next(); ok {
			return env, nil
		}
		if b.peerGone(time.Now()) {
			return envelope.Envelope{}, ErrClosed
		}
		select {
		case <-t.C:
			b.touchReady()
		case <-b.closed:
			return envelope.Envelope{}, ErrClosed
		case <-ctx.Done():
			return envelope.Envelope{}, ctx.Err()
		}
	}
}

func (b *FileBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
		if b.opts.Ready != "" {
			_ = os.Remove(b.opts.Ready)
		}
	})
	return nil
}

func (b *FileBus) next() (envelope.Envelope, bool) {
	b.rmu.Lock()
	defer b.rmu.Unlock()
	if len(b.pending) == 0 {
		var recs []envelope.Envelope
		recs, b.offset = b.readFrom(b.offset)
		b.pending = recs
	}
	if len(b.pending) == 0 {
		return envelope.Envelope{}, false
	}
	env := b.pending[0]
	b.pending = b.pending[1:]
	return env, true
}

func (b *FileBus) readFrom(offset int64) ([]envelope.Envelope, int64) {
	f, err := os.Open(b.opts.In)
	if err != nil {
		return nil, offset
	}
	defer f.Close()

	st, err := f.Stat()
	if err == nil && offset > st.Size() {
		offset = st.Size()
	}
	if offset > 0 {
		if _, err := f.Seek(offset, 0); err != nil {
			return nil, offset
		}
	}

	var out []envelope.Envelope
	reader := bufio.NewReader(f)
	cur := offset
	for {
		line, err := reader.ReadString('\n')
		// A line without its newline is still being written; leave it for
		// the next poll.
		if err != nil {
			break
		}
		cur += int64(len(line))
		if strings.TrimSpace(line) == "" {
			continue
		}
		env, derr := envelope.Decode([]byte(line))
		if derr != nil {
			b.logger.Warn("file bus: dropping invalid record", "path", b.opts.In, "err", derr)
			continue
		}
		out = append(out, env)
	}
	return out, cur
}

func (b *FileBus) touchReady() {
	if b.opts.Ready == "" {
		return
	}
	now := time.Now()
	if err := os.Chtimes(b.opts.Ready, now, now); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return
		}
		_ = os.WriteFile(b.opts.Ready, []byte(now.UTC().Format(time.RFC3339)+"\n"), 0o644)
	}
}

func (b *FileBus) peerGone(now time.Time) bool {
	if b.opts.PeerReady == "" {
		return false
	}
	st, err := os.Stat(b.opts.PeerReady)
	if err != nil {
		// A peer that was seen and removed its ready file has shut down.
		return b.peerSeen.Load() && errors.Is(err, os.ErrNotExist)
	}
	b.peerSeen.Store(true)
	return now.Sub(st.ModTime()) > b.opts.Stale
}

func (b *FileBus) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}
