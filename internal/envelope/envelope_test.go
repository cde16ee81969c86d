package envelope

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want Action
	}{
		{"fromkeystore", ActionFromKeystore},
		{"frommnemonic", ActionFromMnemonic},
		{"result", ActionResult},
		{"error", ActionError},
		{"about", ActionAbout},
		{"check.out.menu", ActionCheckOutMenu},
		{" about ", ActionAbout},
		{"check.out.menu.v2", ActionUnknown},
		{"", ActionUnknown},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ParseAction(tt.in), "ParseAction(%q)", tt.in)
	}
}

func TestActionKinds(t *testing.T) {
	require.True(t, ActionFromKeystore.IsRequest())
	require.True(t, ActionFromMnemonic.IsRequest())
	require.False(t, ActionAbout.IsRequest())
	require.True(t, ActionAbout.IsPush())
	require.True(t, ActionCheckOutMenu.IsPush())
	require.False(t, ActionError.IsPush())
	require.Equal(t, "unknown", ActionUnknown.String())
}

func TestDerivationPair(t *testing.T) {
	env := NewDerivation(ActionFromKeystore, "KS1", "pw1")
	require.Equal(t, "fromkeystore", env.Name)
	require.JSONEq(t, `["KS1","pw1"]`, string(env.Payload))

	p, err := env.Pair()
	require.NoError(t, err)
	require.Equal(t, Pair{Secret: "KS1", Parameter: "pw1"}, p)
}

func TestPairRejectsWrongShape(t *testing.T) {
	for _, payload := range []string{`["only"]`, `["a","b","c"]`, `"text"`, `{"a":1}`} {
		env := Envelope{Version: Version, Name: "frommnemonic", Payload: json.RawMessage(payload)}
		_, err := env.Pair()
		require.ErrorIs(t, err, ErrInvalidPair, payload)
	}
}

func TestText(t *testing.T) {
	require.Equal(t, "0xABC", Envelope{Payload: json.RawMessage(`"0xABC"`)}.Text())
	require.Equal(t, `{"k":1}`, Envelope{Payload: json.RawMessage(`{"k":1}`)}.Text())
	require.Equal(t, "", Envelope{}.Text())
}

func TestReplyCorrelates(t *testing.T) {
	push := NewPush(ActionAbout, "<b>hi</b>")
	require.NotEmpty(t, push.ID)
	require.False(t, push.IsResponse())

	ack := Reply(push, ActionAbout, "payload")
	require.Equal(t, push.ID, ack.ReplyTo)
	require.True(t, ack.IsResponse())
	require.NotEqual(t, push.ID, ack.ID)
}

func TestEncodeDecode(t *testing.T) {
	env := Reply(Envelope{ID: "req-1"}, ActionResult, "0xABC")
	line, err := Encode(env)
	require.NoError(t, err)
	require.Equal(t, byte('\n'), line[len(line)-1])

	got, err := Decode(line)
	require.NoError(t, err)
	require.Equal(t, "req-1", got.ReplyTo)
	require.Equal(t, ActionResult, got.Action())
	require.Equal(t, "0xABC", got.Text())
}

func TestDecodeRejectsInvalid(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"not json",
		`{"version":2,"name":"about"}`,
		`{"version":1,"name":""}`,
		`{"version":1}`,
	}
	for _, l := range lines {
		_, err := Decode([]byte(l))
		require.Error(t, err, l)
		require.True(t, errors.Is(err, ErrInvalidEnvelope), l)
	}
}

func TestDecodeKeepsUnknownNames(t *testing.T) {
	env, err := Decode([]byte(`{"version":1,"name":"theme.changed","payload":"dark"}`))
	require.NoError(t, err)
	require.Equal(t, ActionUnknown, env.Action())
	require.Equal(t, "theme.changed", env.Name)
}
