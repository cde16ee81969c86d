// Package envelope defines the messages exchanged between the front-end and
// the host process.
//
// Wire format (one JSON object per line or per WebSocket text frame):
//
//	{"version":1,"id":"<uuid>","reply_to":"<uuid>","name":"<action>","payload":<json>}
//
// A request carries an id; the host answers with exactly one envelope whose
// reply_to equals that id. Host-initiated pushes have no reply_to.
package envelope

import "strings"

// Action is the discriminating name of an envelope.
type Action int

const (
	ActionUnknown Action = iota
	ActionFromKeystore
	ActionFromMnemonic
	ActionResult
	ActionError
	ActionAbout
	ActionCheckOutMenu
)

var actionNames = map[Action]string{
	ActionFromKeystore: "fromkeystore",
	ActionFromMnemonic: "frommnemonic",
	ActionResult:       "result",
	ActionError:        "error",
	ActionAbout:        "about",
	ActionCheckOutMenu: "check.out.menu",
}

// ParseAction maps a wire name to an Action. Names outside the known set
// yield ActionUnknown; callers keep the raw name for logging.
func ParseAction(name string) Action {
	n := strings.TrimSpace(name)
	for a, s := range actionNames {
		if s == n {
			return a
		}
	}
	return ActionUnknown
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "unknown"
}

// IsRequest reports whether the action is one the front-end may send.
func (a Action) IsRequest() bool {
	return a == ActionFromKeystore || a == ActionFromMnemonic
}

// IsPush reports whether the action is a host-initiated notification.
func (a Action) IsPush() bool {
	return a == ActionAbout || a == ActionCheckOutMenu
}
