package transport

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/InWeCrypto/keytool/internal/envelope"
)

func openPair(t *testing.T, dir string) (*FileBus, *FileBus) {
	t.Helper()
	hostOpts := FileBusPaths(dir, true)
	hostOpts.Poll = 10 * time.Millisecond
	uiOpts := FileBusPaths(dir, false)
	uiOpts.Poll = 10 * time.Millisecond

	host, err := OpenFileBus(nil, hostOpts)
	require.NoError(t, err)
	ui, err := OpenFileBus(nil, uiOpts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = host.Close()
		_ = ui.Close()
	})
	return host, ui
}

func TestFileBusRoundTrip(t *testing.T) {
	host, ui := openPair(t, t.TempDir())
	ctx := testCtx(t)

	req := envelope.NewDerivation(envelope.ActionFromMnemonic, "abandon", "en")
	req.ID = "r1"
	require.NoError(t, ui.Send(ctx, req))

	got, err := host.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "r1", got.ID)

	require.NoError(t, host.Send(ctx, envelope.Reply(got, envelope.ActionResult, "0x1")))
	resp, err := ui.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "r1", resp.ReplyTo)
}

func TestFileBusSkipsEarlierSessionRecords(t *testing.T) {
	dir := t.TempDir()
	opts := FileBusPaths(dir, true)
	old := envelope.NewPush(envelope.ActionAbout, "stale")
	line, err := envelope.Encode(old)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(opts.In, line, 0o644))

	host, ui := openPair(t, dir)
	ctx := testCtx(t)
	fresh := envelope.NewPush(envelope.ActionCheckOutMenu, "fresh")
	require.NoError(t, ui.Send(ctx, fresh))

	got, err := host.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, fresh.ID, got.ID)
}

func TestFileBusLeavesPartialLineForNextPoll(t *testing.T) {
	host, ui := openPair(t, t.TempDir())
	ctx := testCtx(t)

	env := envelope.NewPush(envelope.ActionAbout, "split")
	line, err := envelope.Encode(env)
	require.NoError(t, err)
	half := len(line) / 2

	f, err := os.OpenFile(ui.opts.Out, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(line[:half])
	require.NoError(t, err)

	_, ok := host.next()
	require.False(t, ok)

	_, err = f.Write(line[half:])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := host.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, env.ID, got.ID)
}

func TestFileBusDetectsPeerShutdown(t *testing.T) {
	host, ui := openPair(t, t.TempDir())
	ctx := testCtx(t)

	require.False(t, host.peerGone(time.Now()))
	require.NoError(t, ui.Close())

	_, err := host.Receive(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, ui.Send(ctx, envelope.NewPush(envelope.ActionAbout, "x")), ErrClosed)
}

func TestFileBusStalePeer(t *testing.T) {
	host, _ := openPair(t, t.TempDir())
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(host.opts.PeerReady, old, old))
	require.True(t, host.peerGone(time.Now()))
}
