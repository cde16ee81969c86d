package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/InWeCrypto/keytool/internal/envelope"
)

const helperEnv = "KEYTOOL_TRANSPORT_HELPER"

// TestHelperProcess is not a real test: it is the child host started by the
// process tests. The mode comes after "--".
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	mode := os.Args[len(os.Args)-1]
	fmt.Fprintln(os.Stderr, "helper host up, mode", mode)

	if mode == "hang" {
		time.Sleep(time.Minute)
		os.Exit(0)
	}

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		req, err := envelope.Decode(sc.Bytes())
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad line:", err)
			continue
		}
		line, _ := envelope.Encode(envelope.Reply(req, envelope.ActionResult, "echo:"+req.Text()))
		_, _ = os.Stdout.Write(line)
	}
	if mode == "exit3" {
		os.Exit(3)
	}
	os.Exit(0)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startHelper(t *testing.T, ctx context.Context, mode string) (*Process, *lockedBuffer) {
	t.Helper()
	t.Setenv(helperEnv, "1")
	logs := &lockedBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p, err := StartProcess(ctx, logger, []string{os.Args[0], "-test.run=^TestHelperProcess$", "--", mode})
	require.NoError(t, err)
	return p, logs
}

func TestProcessRoundTripAndStderr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, logs := startHelper(t, ctx, "echo")

	req := envelope.NewPush(envelope.ActionAbout, "hi")
	require.NoError(t, p.Send(ctx, req))

	got, err := p.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, req.ID, got.ReplyTo)
	require.Equal(t, "result", got.Name)
	require.Equal(t, "echo:hi", got.Text())

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "helper host up")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Close())
	_, err = p.Receive(ctx)
	require.ErrorIs(t, err, ErrClosed)
}

func TestProcessNonZeroExitClosesCleanly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, _ := startHelper(t, ctx, "exit3")

	require.NoError(t, p.Close())
}

func TestProcessKilledAfterGrace(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p, _ := startHelper(t, ctx, "hang")
	p.grace = 100 * time.Millisecond

	start := time.Now()
	err := p.Close()
	require.Error(t, err)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestStartProcessRejectsEmptyCommand(t *testing.T) {
	_, err := StartProcess(context.Background(), nil, nil)
	require.Error(t, err)
	_, err = StartProcess(context.Background(), nil, []string{"/no/such/keytool-host"})
	require.Error(t, err)
}
