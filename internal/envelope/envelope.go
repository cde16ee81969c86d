package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Version is the only envelope version this package produces and accepts.
const Version = 1

var (
	// ErrInvalidEnvelope marks a record rejected at the channel boundary.
	ErrInvalidEnvelope = errors.New("envelope: invalid envelope")
	// ErrInvalidPair marks a derivation payload that is not a two-string array.
	ErrInvalidPair = errors.New("envelope: payload must be [secret, parameter]")
)

// Envelope is the tagged message unit exchanged over the host channel.
type Envelope struct {
	Version int             `json:"version"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Pair is the derivation request payload: keystore text and password, or
// mnemonic phrase and language code.
type Pair struct {
	Secret    string
	Parameter string
}

// Action returns the parsed action of the envelope.
func (e Envelope) Action() Action {
	return ParseAction(e.Name)
}

// IsResponse reports whether the envelope answers an earlier request.
func (e Envelope) IsResponse() bool {
	return strings.TrimSpace(e.ReplyTo) != ""
}

// Text returns the payload as a string. JSON strings are unquoted; any
// other payload is returned as its raw JSON text.
func (e Envelope) Text() string {
	if len(e.Payload) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Payload, &s); err == nil {
		return s
	}
	return string(e.Payload)
}

// Pair decodes a derivation payload.
func (e Envelope) Pair() (Pair, error) {
	var parts []string
	if err := json.Unmarshal(e.Payload, &parts); err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrInvalidPair, err)
	}
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("%w: got %d elements", ErrInvalidPair, len(parts))
	}
	return Pair{Secret: parts[0], Parameter: parts[1]}, nil
}

// NewRequest builds a front-end request. The bridge assigns the id.
func NewRequest(a Action, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", a, err)
	}
	return Envelope{Version: Version, Name: a.String(), Payload: raw}, nil
}

// NewDerivation builds a fromkeystore or frommnemonic request.
func NewDerivation(a Action, secret, parameter string) Envelope {
	raw, _ := json.Marshal([]string{secret, parameter})
	return Envelope{Version: Version, Name: a.String(), Payload: raw}
}

// NewPush builds a host-initiated message with a fresh id so the receiver
// can acknowledge it.
func NewPush(a Action, text string) Envelope {
	raw, _ := json.Marshal(text)
	return Envelope{Version: Version, ID: uuid.NewString(), Name: a.String(), Payload: raw}
}

// Reply builds the response to req.
func Reply(req Envelope, a Action, text string) Envelope {
	raw, _ := json.Marshal(text)
	return Envelope{Version: Version, ID: uuid.NewString(), ReplyTo: req.ID, Name: a.String(), Payload: raw}
}

// Validate checks the envelope invariants enforced at the channel boundary.
func (e Envelope) Validate() error {
	if e.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, e.Version)
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidEnvelope)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return fmt.Errorf("%w: payload is not valid json", ErrInvalidEnvelope)
	}
	return nil
}
