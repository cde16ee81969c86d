package tui

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/InWeCrypto/keytool/internal/audit"
)

// busCommand is one line of commands.jsonl. It drives the same paths as the
// keyboard so the front-end can be scripted headlessly.
type busCommand struct {
	Version  int    `json:"version"`
	Type     string `json:"type"`
	Path     string `json:"path,omitempty"`
	Password string `json:"password,omitempty"`
	Text     string `json:"text,omitempty"`
	Lang     string `json:"lang,omitempty"`
	Keys     string `json:"keys,omitempty"`
	Source   string `json:"source,omitempty"` // cli|tui|system
}

// initCommandBus creates the bus file and returns the offset to start
// reading from; commands left by an earlier run are skipped.
func initCommandBus(path string) int64 {
	if strings.TrimSpace(path) == "" {
		return 0
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	st, err := os.Stat(path)
	if err != nil {
		_ = os.WriteFile(path, []byte{}, 0o644)
		return 0
	}
	return st.Size()
}

func (m appModel) consumeCommandBus() (appModel, tea.Cmd) {
	if strings.TrimSpace(m.commandBusPath) == "" {
		return m, nil
	}
	cmds, newOffset := readBusCommands(m.commandBusPath, m.commandBusOffset)
	m.commandBusOffset = newOffset
	var outCmds []tea.Cmd
	for _, c := range cmds {
		var cmd tea.Cmd
		m, cmd = m.applyBusCommand(c)
		if cmd != nil {
			outCmds = append(outCmds, cmd)
		}
		if m.quitRequested {
			break
		}
	}
	if len(outCmds) == 0 {
		return m, nil
	}
	return m, tea.Batch(outCmds...)
}

func readBusCommands(path string, offset int64) ([]busCommand, int64) {
	f, err := os.Open(path)
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

	var cmds []busCommand
	reader := bufio.NewReader(f)
	cur := offset
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// Partial line; pick it up on the next tick.
			break
		}
		cur += int64(len(line))
		txt := strings.TrimSpace(line)
		if txt == "" {
			continue
		}
		var c busCommand
		if json.Unmarshal([]byte(txt), &c) == nil && c.Version == 1 && strings.TrimSpace(c.Type) != "" {
			cmds = append(cmds, c)
		}
	}
	return cmds, cur
}

func (m appModel) applyBusCommand(c busCommand) (appModel, tea.Cmd) {
	src := strings.TrimSpace(c.Source)
	if src == "" {
		src = "cli"
	}
	prevSource := m.actionSource
	m.actionSource = src
	m.emitEvent(audit.Event{Source: src, Type: "command.received", Action: c.Type})

	next, cmd := m.runBusCommand(c)
	next.actionSource = prevSource
	return next, cmd
}

func (m appModel) runBusCommand(c busCommand) (appModel, tea.Cmd) {
	switch strings.TrimSpace(strings.ToLower(c.Type)) {
	case "stop":
		for m.currentOverlay() != overlayNone {
			m = m.closeOverlay()
		}
		m.quitRequested = true
		return m, tea.Quit
	case "keystore":
		if m.form != formKeystore {
			m = m.switchForm()
		}
		m.keystore.SetValue(strings.TrimSpace(c.Path))
		m.password.SetValue(c.Password)
		return m.submit()
	case "mnemonic":
		if m.form != formMnemonic {
			m = m.switchForm()
		}
		m.mnemonic.SetValue(strings.TrimSpace(c.Text))
		if lang := strings.TrimSpace(c.Lang); lang != "" {
			m.lang.SetValue(lang)
		}
		return m.submit()
	case "key":
		keys := splitKeys(c.Keys)
		var cmds []tea.Cmd
		for _, k := range keys {
			if m.quitRequested {
				break
			}
			var cmd tea.Cmd
			m, cmd = m.applySyntheticKey(k)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
		if len(cmds) == 0 {
			return m, nil
		}
		return m, tea.Batch(cmds...)
	default:
		m.emitEvent(audit.Event{Source: m.actionSource, Type: "command.unknown", Action: c.Type})
		return m, nil
	}
}

func splitKeys(keys string) []string {
	raw := strings.FieldsFunc(keys, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		s := strings.TrimSpace(t)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (m appModel) applySyntheticKey(token string) (appModel, tea.Cmd) {
	t := strings.TrimSpace(token)
	if t == "" {
		return m, nil
	}

	var msg tea.KeyMsg
	switch strings.ToLower(t) {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc", "escape":
		msg = tea.KeyMsg{Type: tea.KeyEscape}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "backspace":
		msg = tea.KeyMsg{Type: tea.KeyBackspace}
	case "ctrl+t":
		msg = tea.KeyMsg{Type: tea.KeyCtrlT}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(t)}
	}

	next, cmd := m.Update(msg)
	if am, ok := next.(appModel); ok {
		m = am
	}
	return m, cmd
}
