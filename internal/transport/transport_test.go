package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/InWeCrypto/keytool/internal/envelope"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	ctx := testCtx(t)

	req := envelope.NewDerivation(envelope.ActionFromMnemonic, "abandon", "en")
	req.ID = "req-1"
	require.NoError(t, a.Send(ctx, req))

	got, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, req, got)

	require.NoError(t, b.Send(ctx, envelope.Reply(got, envelope.ActionResult, "0xabc")))
	resp, err := a.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "req-1", resp.ReplyTo)
}

func TestPipeRejectsInvalidEnvelope(t *testing.T) {
	a, b := Pipe()
	defer b.Close()
	err := a.Send(testCtx(t), envelope.Envelope{Version: 2, Name: "result"})
	require.ErrorIs(t, err, envelope.ErrInvalidEnvelope)
}

func TestPipeCloseDrainsThenFails(t *testing.T) {
	a, b := Pipe()
	ctx := testCtx(t)
	require.NoError(t, a.Send(ctx, envelope.NewPush(envelope.ActionAbout, "hi")))
	require.NoError(t, a.Close())

	got, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "about", got.Name)

	_, err = b.Receive(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, b.Send(ctx, envelope.NewPush(envelope.ActionAbout, "x")), ErrClosed)
}

func TestStreamOverPipes(t *testing.T) {
	// ui writes to hostR, host writes to uiR.
	hostR, uiW := io.Pipe()
	uiR, hostW := io.Pipe()
	ui := NewStream(nil, uiR, uiW, uiW)
	host := NewStream(nil, hostR, hostW, hostW)
	defer ui.Close()
	defer host.Close()
	ctx := testCtx(t)

	req := envelope.NewDerivation(envelope.ActionFromKeystore, "{}", "pw")
	req.ID = "k-1"
	require.NoError(t, ui.Send(ctx, req))

	got, err := host.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, req.ID, got.ID)
	pair, err := got.Pair()
	require.NoError(t, err)
	require.Equal(t, "pw", pair.Parameter)

	require.NoError(t, host.Send(ctx, envelope.Reply(got, envelope.ActionError, "bad password")))
	resp, err := ui.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, envelope.ActionError, resp.Action())
	require.Equal(t, "bad password", resp.Text())
}

func TestStreamSkipsInvalidLinesAndReportsEOF(t *testing.T) {
	r, w := io.Pipe()
	s := NewStream(nil, r, io.Discard)
	defer s.Close()
	ctx := testCtx(t)

	go func() {
		_, _ = w.Write([]byte("not json\n"))
		_, _ = w.Write([]byte(`{"version":1,"id":"p1","name":"check.out.menu","payload":"menu"}` + "\n"))
		_ = w.Close()
	}()

	got, err := s.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "p1", got.ID)

	_, err = s.Receive(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestStreamReceiveHonoursContext(t *testing.T) {
	r, _ := io.Pipe()
	s := NewStream(nil, r, io.Discard)
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
