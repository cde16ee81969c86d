package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode renders env as a single JSON line terminated by '\n'.
func Encode(env Envelope) ([]byte, error) {
	if env.Version == 0 {
		env.Version = Version
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append(b, '\n'), nil
}

// Decode parses one line. Blank lines and records that fail validation
// return an error wrapping ErrInvalidEnvelope.
func Decode(line []byte) (Envelope, error) {
	txt := bytes.TrimSpace(line)
	if len(txt) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty line", ErrInvalidEnvelope)
	}
	var env Envelope
	if err := json.Unmarshal(txt, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
