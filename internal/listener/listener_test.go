package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/InWeCrypto/keytool/internal/envelope"
	"github.com/InWeCrypto/keytool/internal/loader"
	"github.com/InWeCrypto/keytool/internal/transport"
)

type recordingModal struct {
	mu    sync.Mutex
	shown []string
}

func (m *recordingModal) ShowModal(content string) {
	m.mu.Lock()
	m.shown = append(m.shown, content)
	m.mu.Unlock()
}

func (m *recordingModal) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.shown...)
}

func newState(t *testing.T) *loader.State {
	t.Helper()
	s := loader.New()
	require.NoError(t, s.Init())
	return s
}

func TestAboutShowsModalAndAcknowledges(t *testing.T) {
	ui, host := transport.Pipe()
	defer ui.Close()
	modal := &recordingModal{}
	state := newState(t)
	l := New(nil, state, modal, ui)

	push := envelope.NewPush(envelope.ActionAbout, "<h1>keytool</h1>")
	l.Dispatch(context.Background(), push)

	require.Equal(t, []string{"<h1>keytool</h1>"}, modal.all())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ack, err := host.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, push.ID, ack.ReplyTo)
	require.Equal(t, "about", ack.Name)
	require.Equal(t, AckPayload, ack.Text())
	require.False(t, state.Busy())
}

func TestAboutWithoutIDSkipsAck(t *testing.T) {
	ui, host := transport.Pipe()
	defer ui.Close()
	modal := &recordingModal{}
	l := New(nil, newState(t), modal, ui)

	push := envelope.NewPush(envelope.ActionAbout, "hello")
	push.ID = ""
	l.Dispatch(context.Background(), push)
	require.Len(t, modal.all(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := host.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckOutMenuRaisesInfo(t *testing.T) {
	state := newState(t)
	l := New(nil, state, nil, nil)

	l.Dispatch(context.Background(), envelope.NewPush(envelope.ActionCheckOutMenu, "use the menu"))

	n, ok := state.Notification()
	require.True(t, ok)
	require.Equal(t, loader.LevelInfo, n.Level)
	require.Equal(t, "use the menu", n.Message)
	require.False(t, state.Busy())
}

func TestUnknownNameIsIgnored(t *testing.T) {
	state := newState(t)
	modal := &recordingModal{}
	l := New(nil, state, modal, nil)

	l.Dispatch(context.Background(), envelope.Envelope{Version: 1, ID: "x", Name: "reload"})

	_, ok := state.Notification()
	require.False(t, ok)
	require.Empty(t, modal.all())
}

func TestOnOverridesAndRecoversPanics(t *testing.T) {
	l := New(nil, newState(t), nil, nil)
	calls := 0
	l.On("reload", func(context.Context, envelope.Envelope) error {
		calls++
		panic("boom")
	})
	require.NotPanics(t, func() {
		l.Dispatch(context.Background(), envelope.Envelope{Version: 1, Name: "reload"})
	})
	require.Equal(t, 1, calls)
}
