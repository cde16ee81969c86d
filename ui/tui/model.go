package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/InWeCrypto/keytool/internal/audit"
	"github.com/InWeCrypto/keytool/internal/bridge"
	"github.com/InWeCrypto/keytool/internal/envelope"
	"github.com/InWeCrypto/keytool/internal/loader"
)

type form int

const (
	formKeystore form = iota
	formMnemonic
)

func (f form) String() string {
	switch f {
	case formKeystore:
		return "keystore"
	case formMnemonic:
		return "mnemonic"
	default:
		return "unknown"
	}
}

type overlay int

const (
	overlayNone overlay = iota
	overlayAbout
)

func (o overlay) String() string {
	switch o {
	case overlayNone:
		return "none"
	case overlayAbout:
		return "about"
	default:
		return "unknown"
	}
}

// Sender is the request side of the bridge.
type Sender interface {
	Send(ctx context.Context, env envelope.Envelope) (string, error)
}

type appConfig struct {
	stateDir     string
	sessionID    string
	version      string
	transport    string
	commandsPath string
	defaultLang  string
}

// stateMsg carries a loader transition into the program.
type stateMsg loader.Snapshot

type identityMsg struct {
	Address string
}

type aboutMsg struct {
	Content string
}

type hostGoneMsg struct{}

type deriveDoneMsg struct {
	Action    string
	Source    string
	Requested time.Time
	Address   string
	Err       error
}

type appModel struct {
	cfg appConfig
	th  theme

	width  int
	height int

	sender Sender
	state  *loader.State
	events *audit.Logger

	form     form
	focus    int
	keystore textinput.Model
	password textinput.Model
	mnemonic textinput.Model
	lang     textinput.Model

	spin spinner.Model

	busy         bool
	notification *loader.Notification
	identity     string
	derived      []string
	hostGone     bool

	overlays  []overlay
	aboutText string

	commandBusPath   string
	commandBusOffset int64
	actionSource     string // tui|cli
	quitRequested    bool

	now time.Time
}

func newAppModel(cfg appConfig, sender Sender, state *loader.State, events *audit.Logger) appModel {
	if strings.TrimSpace(cfg.defaultLang) == "" {
		cfg.defaultLang = "en_US"
	}
	ks := textinput.New()
	ks.Prompt = ""
	ks.Placeholder = "path to keystore file, or keystore JSON"
	ks.CharLimit = 0

	pw := textinput.New()
	pw.Prompt = ""
	pw.Placeholder = "password"
	pw.EchoMode = textinput.EchoPassword
	pw.EchoCharacter = '•'

	mn := textinput.New()
	mn.Prompt = ""
	mn.Placeholder = "twelve or twenty-four words"
	mn.CharLimit = 0

	lg := textinput.New()
	lg.Prompt = ""
	lg.Placeholder = "en_US"
	lg.SetValue(cfg.defaultLang)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := appModel{
		cfg:            cfg,
		th:             defaultTheme(),
		sender:         sender,
		state:          state,
		events:         events,
		keystore:       ks,
		password:       pw,
		mnemonic:       mn,
		lang:           lg,
		spin:           sp,
		derived:        []string{},
		commandBusPath: cfg.commandsPath,
		actionSource:   "tui",
	}
	m.commandBusOffset = initCommandBus(cfg.commandsPath)
	if state != nil {
		snap := state.Snapshot()
		m.busy = snap.Busy
		m.notification = snap.Notification
	}
	m = m.setFocus(0)
	m.emitEvent(audit.Event{Source: "system", Type: "session.started", Detail: cfg.transport})
	return m
}

func (m appModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), textinput.Blink, m.spin.Tick)
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return t })
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch t := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = t.Width
		m.height = t.Height
		return m, nil
	case time.Time:
		return m.onTick(t)
	case stateMsg:
		// The message only signals a change; the state itself is authoritative.
		snap := loader.Snapshot(t)
		if m.state != nil {
			snap = m.state.Snapshot()
		}
		m.busy = snap.Busy
		m.notification = snap.Notification
		return m, nil
	case identityMsg:
		m.identity = t.Address
		m.derived = append(m.derived, t.Address)
		if len(m.derived) > 10 {
			m.derived = m.derived[len(m.derived)-10:]
		}
		return m, nil
	case aboutMsg:
		m.aboutText = stripHTML(t.Content)
		if m.currentOverlay() != overlayAbout {
			m = m.openOverlay(overlayAbout)
		}
		return m, nil
	case hostGoneMsg:
		m.hostGone = true
		m.emitEvent(audit.Event{Source: "system", Type: "host.disconnected"})
		return m, nil
	case deriveDoneMsg:
		outcome := audit.OutcomeOK
		var hostErr *bridge.HostError
		switch {
		case t.Err == nil:
		case errors.Is(t.Err, bridge.ErrBusy):
			outcome = audit.OutcomeBusy
		case errors.Is(t.Err, bridge.ErrTimeout):
			outcome = audit.OutcomeTimeout
		case errors.Is(t.Err, bridge.ErrChannelClosed):
			outcome = audit.OutcomeClosed
		case errors.As(t.Err, &hostErr):
			outcome = audit.OutcomeHostError
		default:
			outcome = audit.OutcomeError
		}
		m.emitEvent(audit.Event{
			Source:   t.Source,
			Type:     "derive.done",
			Action:   t.Action,
			Outcome:  outcome,
			Duration: time.Since(t.Requested),
		})
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(t)
		return m, cmd
	case tea.KeyMsg:
		return m.updateKeys(t)
	}
	return m.updateFocused(msg)
}

func (m appModel) onTick(now time.Time) (appModel, tea.Cmd) {
	m.now = now
	var busCmd tea.Cmd
	m, busCmd = m.consumeCommandBus()
	if m.quitRequested {
		return m, tea.Quit
	}
	if busCmd != nil {
		return m, tea.Batch(tickCmd(), busCmd)
	}
	return m, tickCmd()
}

func (m appModel) updateKeys(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "ctrl+c":
		m.quitRequested = true
		return m, tea.Quit
	}

	if m.currentOverlay() == overlayAbout {
		switch k.String() {
		case "esc", "enter", "q":
			m = m.closeOverlay()
		}
		return m, nil
	}

	switch k.String() {
	case "esc":
		if m.hasInput() {
			m = m.clearForm()
			return m, nil
		}
		m.quitRequested = true
		return m, tea.Quit
	case "ctrl+t":
		return m.switchForm(), nil
	case "tab", "down":
		return m.setFocus(m.focus + 1), nil
	case "shift+tab", "up":
		return m.setFocus(m.focus - 1), nil
	case "enter":
		if m.focus == 0 {
			return m.setFocus(1), nil
		}
		return m.submit()
	}
	return m.updateFocused(k)
}

func (m appModel) updateFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch {
	case m.form == formKeystore && m.focus == 0:
		m.keystore, cmd = m.keystore.Update(msg)
	case m.form == formKeystore:
		m.password, cmd = m.password.Update(msg)
	case m.focus == 0:
		m.mnemonic, cmd = m.mnemonic.Update(msg)
	default:
		m.lang, cmd = m.lang.Update(msg)
	}
	return m, cmd
}

func (m appModel) setFocus(i int) appModel {
	if i < 0 {
		i = 1
	}
	m.focus = i % 2
	m.keystore.Blur()
	m.password.Blur()
	m.mnemonic.Blur()
	m.lang.Blur()
	switch {
	case m.form == formKeystore && m.focus == 0:
		m.keystore.Focus()
	case m.form == formKeystore:
		m.password.Focus()
	case m.focus == 0:
		m.mnemonic.Focus()
	default:
		m.lang.Focus()
	}
	return m
}

func (m appModel) switchForm() appModel {
	if m.form == formKeystore {
		m.form = formMnemonic
	} else {
		m.form = formKeystore
	}
	m.emitEvent(audit.Event{Source: m.actionSource, Type: "ui.form.switch", Action: m.form.String()})
	return m.setFocus(0)
}

func (m appModel) hasInput() bool {
	if m.form == formKeystore {
		return m.keystore.Value() != "" || m.password.Value() != ""
	}
	return m.mnemonic.Value() != ""
}

func (m appModel) clearForm() appModel {
	if m.form == formKeystore {
		m.keystore.Reset()
		m.password.Reset()
	} else {
		m.mnemonic.Reset()
	}
	return m.setFocus(0)
}

// submit hands the active form to the bridge. Admission is decided by the
// bridge; the form never checks busy itself.
func (m appModel) submit() (appModel, tea.Cmd) {
	if m.sender == nil {
		return m, nil
	}
	var cmd tea.Cmd
	switch m.form {
	case formKeystore:
		cmd = deriveKeystoreCmd(m.sender, m.actionSource, m.keystore.Value(), m.password.Value())
		m.password.Reset()
	case formMnemonic:
		cmd = deriveMnemonicCmd(m.sender, m.actionSource, m.mnemonic.Value(), m.lang.Value())
	}
	m.emitEvent(audit.Event{Source: m.actionSource, Type: "derive.submit", Action: m.form.String()})
	return m, cmd
}

func deriveKeystoreCmd(s Sender, source string, pathOrJSON string, password string) tea.Cmd {
	return func() tea.Msg {
		started := time.Now()
		text := loadKeystoreText(pathOrJSON)
		env := envelope.NewDerivation(envelope.ActionFromKeystore, text, password)
		addr, err := s.Send(context.Background(), env)
		return deriveDoneMsg{Action: env.Name, Source: source, Requested: started, Address: addr, Err: err}
	}
}

func deriveMnemonicCmd(s Sender, source string, phrase string, lang string) tea.Cmd {
	return func() tea.Msg {
		started := time.Now()
		env := envelope.NewDerivation(envelope.ActionFromMnemonic, strings.TrimSpace(phrase), strings.TrimSpace(lang))
		addr, err := s.Send(context.Background(), env)
		return deriveDoneMsg{Action: env.Name, Source: source, Requested: started, Address: addr, Err: err}
	}
}

// loadKeystoreText reads v as a file path when one exists, otherwise returns
// v as keystore JSON.
func loadKeystoreText(v string) string {
	txt := strings.TrimSpace(v)
	if txt == "" || strings.HasPrefix(txt, "{") {
		return txt
	}
	if strings.HasPrefix(txt, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			txt = home + txt[1:]
		}
	}
	if b, err := os.ReadFile(txt); err == nil {
		return string(b)
	}
	return txt
}

func (m appModel) currentOverlay() overlay {
	if len(m.overlays) == 0 {
		return overlayNone
	}
	return m.overlays[len(m.overlays)-1]
}

func (m appModel) openOverlay(o overlay) appModel {
	m.overlays = append(m.overlays, o)
	m.emitEvent(audit.Event{Source: m.actionSource, Type: "ui.overlay.open", Action: o.String(), Detail: fmt.Sprintf("depth=%d", len(m.overlays))})
	return m
}

func (m appModel) closeOverlay() appModel {
	if len(m.overlays) == 0 {
		return m
	}
	popped := m.overlays[len(m.overlays)-1]
	m.overlays = m.overlays[:len(m.overlays)-1]
	m.emitEvent(audit.Event{Source: m.actionSource, Type: "ui.overlay.close", Action: popped.String(), Detail: fmt.Sprintf("depth=%d", len(m.overlays))})
	return m
}

func (m appModel) emitEvent(e audit.Event) {
	m.events.Append(e)
}

func (m appModel) View() string {
	w, h := m.effectiveSize()
	if w < 40 || h < 12 {
		return m.viewTooSmall(w, h)
	}

	header := renderHeader(m.th, m.cfg.version, m.cfg.transport, m.hostGone, m.cfg.sessionID)
	frame := m.th.Frame
	if w >= 4 {
		frame = frame.Width(w - 2)
	}
	base := frame.Render(lipgloss.JoinVertical(lipgloss.Left,
		header,
		"",
		m.viewTabs(),
		m.viewForm(),
		"",
		m.viewIdentity(w-8),
		m.viewStatus(),
		m.th.Muted.Render("[Tab] Next field  [Ctrl+T] Switch form  [Enter] Derive  [Esc] Clear/Quit"),
	))
	if m.currentOverlay() == overlayAbout {
		return renderOverlay(m.th, base, m.viewAbout(w-4))
	}
	return base
}

func (m appModel) viewTabs() string {
	tabs := []string{"Keystore", "Mnemonic"}
	out := make([]string, 0, len(tabs))
	for i, t := range tabs {
		if form(i) == m.form {
			out = append(out, m.th.Accent.Render("["+t+"]"))
		} else {
			out = append(out, m.th.Muted.Render(" "+t+" "))
		}
	}
	return strings.Join(out, " ")
}

func (m appModel) viewForm() string {
	if m.form == formKeystore {
		return strings.Join([]string{
			m.th.Label.Render("Keystore") + m.keystore.View(),
			m.th.Label.Render("Password") + m.password.View(),
		}, "\n")
	}
	return strings.Join([]string{
		m.th.Label.Render("Mnemonic") + m.mnemonic.View(),
		m.th.Label.Render("Language") + m.lang.View(),
	}, "\n")
}

func (m appModel) viewIdentity(width int) string {
	body := m.th.Muted.Render("no identity derived yet")
	if m.identity != "" {
		body = m.th.Identity.Render(m.identity)
	}
	p := m.th.Panel
	if width > 10 {
		p = p.Width(width)
	}
	return p.Render(m.th.Muted.Render("Address") + "\n" + body)
}

func (m appModel) viewStatus() string {
	parts := []string{}
	if m.busy {
		parts = append(parts, m.spin.View()+m.th.Accent.Render(" deriving..."))
	}
	if n := m.notification; n != nil {
		style := m.th.Success
		if n.Level == loader.LevelError {
			style = m.th.Danger
		}
		parts = append(parts, style.Render(fmt.Sprintf("%s %s", n.Level, n.Message)))
	}
	if len(parts) == 0 {
		return m.th.Muted.Render("ready")
	}
	return strings.Join(parts, "  ")
}

func (m appModel) viewAbout(width int) string {
	box := m.th.OverlayBox
	if width > 10 {
		box = box.Width(width)
	}
	return box.Render(m.th.Header.Render("About") + "\n\n" + m.aboutText + "\n\n" + m.th.Muted.Render("[Esc] Close"))
}

func renderHeader(th theme, version string, transport string, hostGone bool, sessionID string) string {
	host := th.Success.Render("connected")
	if hostGone {
		host = th.Danger.Render("disconnected")
	}
	line := fmt.Sprintf("KEYTOOL %s", version)
	return th.Header.Render(line) + "  " + th.Muted.Render("[ host: "+transport+" ")+host+th.Muted.Render(" ]") +
		"\n" + th.Muted.Render(fmt.Sprintf("Session: %s", sessionID))
}

func renderOverlay(th theme, base string, overlay string) string {
	dim := th.Overlay.Render(base)
	return dim + "\n\n" + overlay
}

func (m appModel) effectiveSize() (int, int) {
	w := m.width
	h := m.height
	// Headless runs may not deliver a WindowSizeMsg.
	if w <= 0 {
		w = 80
	}
	if h <= 0 {
		h = 24
	}
	return w, h
}

func (m appModel) viewTooSmall(w, h int) string {
	lines := []string{
		m.th.Header.Render("KEYTOOL"),
		m.th.Alert.Render("Terminal too small"),
		m.th.Muted.Render(fmt.Sprintf("Minimum: 40x12. Current: %dx%d", w, h)),
	}
	return strings.Join(lines, "\n")
}

// lineBreaks end a line of about text when they close.
var lineBreaks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// stripHTML renders an about payload as plain terminal text. Script and
// style bodies are dropped.
func stripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidyLines(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch a := atom.Lookup(name); {
			case a == atom.Br:
				b.WriteByte('\n')
			case (a == atom.Script || a == atom.Style) && tt == html.StartTagToken:
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Script || a == atom.Style:
				if skip > 0 {
					skip--
				}
			case lineBreaks[a] && skip == 0:
				b.WriteByte('\n')
			}
		}
	}
}

// tidyLines trims every line and keeps at most one blank line in a row.
func tidyLines(s string) string {
	var out []string
	blank := 0
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
