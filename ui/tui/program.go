// Package tui is the terminal front-end: keystore and mnemonic forms wired
// to the host through the bridge.
package tui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/InWeCrypto/keytool/internal/audit"
	"github.com/InWeCrypto/keytool/internal/bridge"
	"github.com/InWeCrypto/keytool/internal/listener"
	"github.com/InWeCrypto/keytool/internal/loader"
	"github.com/InWeCrypto/keytool/internal/transport"
)

type Options struct {
	StateDir  string
	SessionID string
	Version   string
	Transport string
	Lang      string
	Timeout   time.Duration
	// Serve runs without a terminal, driven by <session>/commands.jsonl.
	Serve  bool
	Logger *slog.Logger
}

// programSurface forwards bridge and listener surface calls into the running
// program as messages.
type programSurface struct {
	p *tea.Program
}

func (s *programSurface) ShowIdentity(address string) {
	if s.p != nil {
		s.p.Send(identityMsg{Address: address})
	}
}

func (s *programSurface) ShowModal(content string) {
	if s.p != nil {
		s.p.Send(aboutMsg{Content: content})
	}
}

func (s *programSurface) publish(snap loader.Snapshot) {
	if s.p != nil {
		s.p.Send(stateMsg(snap))
	}
}

// Run drives one front-end session over conn until the user quits, a stop
// command arrives, or ctx ends. conn is closed on return.
func Run(ctx context.Context, conn transport.Conn, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stateDir := strings.TrimSpace(opts.StateDir)
	if stateDir == "" {
		stateDir = ".keytool"
	}
	sessionID := strings.TrimSpace(opts.SessionID)
	if sessionID == "" {
		sessionID = newSessionID()
	}
	_ = os.MkdirAll(filepath.Join(stateDir, sessionID), 0o755)

	state := loader.New()
	if err := state.Init(); err != nil {
		return err
	}
	events := audit.New(stateDir, sessionID)
	defer events.Close()
	surface := &programSurface{}

	lst := listener.New(logger, state, surface, conn)
	b, err := bridge.New(conn, state, bridge.Options{
		Display:  surface,
		Listener: lst,
		Audit:    events,
		Logger:   logger,
		Timeout:  opts.Timeout,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	m := newAppModel(appConfig{
		stateDir:     stateDir,
		sessionID:    sessionID,
		version:      nonEmpty(opts.Version, "dev"),
		transport:    nonEmpty(opts.Transport, "embedded"),
		commandsPath: filepath.Join(stateDir, sessionID, "commands.jsonl"),
		defaultLang:  opts.Lang,
	}, b, state, events)

	var p *tea.Program
	if opts.Serve {
		p = tea.NewProgram(
			m,
			tea.WithContext(ctx),
			tea.WithoutRenderer(),
			tea.WithInput(bytes.NewReader(nil)),
			tea.WithOutput(io.Discard),
		)
	} else {
		p = tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	}
	surface.p = p
	state.Subscribe(surface.publish)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.Start(runCtx)
	go func() {
		select {
		case <-b.Done():
			p.Send(hostGoneMsg{})
		case <-runCtx.Done():
		}
	}()

	logger.Info("front-end started", "session", sessionID, "transport", m.cfg.transport, "serve", opts.Serve)
	finalModel, err := p.Run()
	if am, ok := finalModel.(appModel); ok {
		writeSessionSummary(am)
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

func newSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func nonEmpty(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
