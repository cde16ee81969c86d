package tui

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// writeSessionSummary records how the session ended. Secrets and form
// contents are never written.
func writeSessionSummary(m appModel) {
	if m.cfg.stateDir == "" || m.cfg.sessionID == "" {
		return
	}
	dir := filepath.Join(m.cfg.stateDir, m.cfg.sessionID)
	_ = os.MkdirAll(dir, 0o755)

	// Host messages can quote mnemonic words, so only the level is kept.
	var note map[string]any
	if n := m.notification; n != nil {
		note = map[string]any{"level": string(n.Level), "seq": n.Seq}
	}

	out := map[string]any{
		"version":          1,
		"updatedAt":        time.Now().UTC().Format(time.RFC3339Nano),
		"sessionId":        m.cfg.sessionID,
		"transport":        m.cfg.transport,
		"form":             m.form.String(),
		"overlay":          m.currentOverlay().String(),
		"busy":             m.busy,
		"hostDisconnected": m.hostGone,
		"identity":         m.identity,
		"derived":          m.derived,
		"lastNotification": note,
		"eventsPath":       filepath.Join(dir, "events.jsonl"),
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, "summary.json"), append(b, '\n'), 0o644)
}
