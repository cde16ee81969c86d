package host

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const abandonPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func encryptedKeystore(t *testing.T, password string) (string, string) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
	}
	blob, err := keystore.EncryptKey(key, password, keystore.LightScryptN, keystore.LightScryptP)
	require.NoError(t, err)
	return string(blob), key.Address.Hex()
}

func TestFromKeystoreRoundTrip(t *testing.T) {
	blob, want := encryptedKeystore(t, "pw1")

	id, err := EVMDeriver{}.FromKeystore(context.Background(), blob, "pw1")
	require.NoError(t, err)
	require.Equal(t, want, id.Address)
	require.True(t, strings.HasPrefix(id.PublicKey, "0x02") || strings.HasPrefix(id.PublicKey, "0x03"))
	require.Len(t, id.PublicKey, 2+66)
}

func TestFromKeystoreWrongPassword(t *testing.T) {
	blob, _ := encryptedKeystore(t, "pw1")
	_, err := EVMDeriver{}.FromKeystore(context.Background(), blob, "nope")
	require.ErrorIs(t, err, ErrDecryptKeystore)
}

func TestFromKeystoreEmpty(t *testing.T) {
	_, err := EVMDeriver{}.FromKeystore(context.Background(), "  ", "pw")
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestFromMnemonicKnownVector(t *testing.T) {
	id, err := EVMDeriver{}.FromMnemonic(context.Background(), abandonPhrase, "en_US")
	require.NoError(t, err)
	require.True(t, strings.EqualFold("0x9858EfFD232B4033E47d90003D41EC34EcaEda94", id.Address), id.Address)
}

func TestFromMnemonicCollapsesWhitespace(t *testing.T) {
	messy := "  " + strings.ReplaceAll(abandonPhrase, " ", "\n  ") + " "
	a, err := EVMDeriver{}.FromMnemonic(context.Background(), messy, "")
	require.NoError(t, err)
	b, err := EVMDeriver{}.FromMnemonic(context.Background(), abandonPhrase, "en")
	require.NoError(t, err)
	require.Equal(t, b, a)
}

func TestFromMnemonicOtherPathDiffers(t *testing.T) {
	a, err := EVMDeriver{}.FromMnemonic(context.Background(), abandonPhrase, "en")
	require.NoError(t, err)
	b, err := EVMDeriver{Path: "m/44'/60'/0'/0/1"}.FromMnemonic(context.Background(), abandonPhrase, "en")
	require.NoError(t, err)
	require.NotEqual(t, a.Address, b.Address)
}

func TestFromMnemonicSuggestsWord(t *testing.T) {
	typo := strings.Replace(abandonPhrase, "about", "abuot", 1)
	_, err := EVMDeriver{}.FromMnemonic(context.Background(), typo, "en")
	require.ErrorIs(t, err, ErrInvalidMnemonic)
	require.Contains(t, err.Error(), `"abuot"`)
	require.Contains(t, err.Error(), `did you mean`)
}

func TestFromMnemonicBadChecksum(t *testing.T) {
	phrase := strings.Repeat("abandon ", 12)
	_, err := EVMDeriver{}.FromMnemonic(context.Background(), phrase, "en")
	require.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestFromMnemonicUnsupportedLanguage(t *testing.T) {
	_, err := EVMDeriver{}.FromMnemonic(context.Background(), abandonPhrase, "xx_YY")
	require.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestResolveWordlist(t *testing.T) {
	cases := map[string]string{
		"":      "english",
		"en_US": "english",
		"en":    "english",
		"zh_CN": "chinese_simplified",
		"zh-TW": "chinese_traditional",
		"ja":    "japanese",
		"ko_KR": "korean",
		"es":    "spanish",
	}
	for code, want := range cases {
		wl, err := resolveWordlist(code)
		require.NoError(t, err, code)
		require.Equal(t, want, wl.name, code)
		require.Len(t, wl.words, 2048, code)
	}
}

func TestClosestWord(t *testing.T) {
	words := []string{"abandon", "ability", "able", "about"}
	require.Equal(t, "about", closestWord("abuot", words))
	require.Equal(t, "abandon", closestWord("ABANDN", words))
	require.Equal(t, "", closestWord("zzzzzzzz", words))
	require.Equal(t, "", closestWord(" ", words))
}

func TestIdentityRejectsBadKeys(t *testing.T) {
	_, err := identityFromPrivateKey(make([]byte, 31))
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = identityFromPrivateKey(make([]byte, 32))
	require.ErrorIs(t, err, ErrInvalidKey)
}
