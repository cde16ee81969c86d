package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/tyler-smith/go-bip39"
	"github.com/tyler-smith/go-bip39/wordlists"
)

const DefaultDerivationPath = "m/44'/60'/0'/0/0"

var (
	ErrEmptyInput      = errors.New("host: empty input")
	ErrInvalidMnemonic = errors.New("host: invalid mnemonic")
	ErrDecryptKeystore = errors.New("host: could not decrypt keystore")
)

// Deriver turns secret material into an identity.
type Deriver interface {
	FromKeystore(ctx context.Context, keystoreJSON string, password string) (Identity, error)
	FromMnemonic(ctx context.Context, phrase string, lang string) (Identity, error)
}

// EVMDeriver derives Ethereum-style identities.
type EVMDeriver struct {
	Path string
}

// bip39 keeps its wordlist in a package variable.
var wordlistMu sync.Mutex

func (d EVMDeriver) FromKeystore(_ context.Context, keystoreJSON string, password string) (Identity, error) {
	if strings.TrimSpace(keystoreJSON) == "" {
		return Identity{}, fmt.Errorf("%w: keystore", ErrEmptyInput)
	}
	key, err := keystore.DecryptKey([]byte(keystoreJSON), password)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrDecryptKeystore, err)
	}
	raw := crypto.FromECDSA(key.PrivateKey)
	defer clear(raw)
	return identityFromPrivateKey(raw)
}

func (d EVMDeriver) FromMnemonic(_ context.Context, phrase string, lang string) (Identity, error) {
	phrase = strings.Join(strings.Fields(phrase), " ")
	if phrase == "" {
		return Identity{}, fmt.Errorf("%w: mnemonic", ErrEmptyInput)
	}
	wl, err := resolveWordlist(lang)
	if err != nil {
		return Identity{}, err
	}

	seed, err := func() ([]byte, error) {
		wordlistMu.Lock()
		defer wordlistMu.Unlock()
		bip39.SetWordList(wl.words)
		defer bip39.SetWordList(wordlists.English)
		return bip39.NewSeedWithErrorChecking(phrase, "")
	}()
	if err != nil {
		if w, ok := unknownWord(phrase, wl.words); ok {
			if s := closestWord(w, wl.words); s != "" {
				return Identity{}, fmt.Errorf("%w: unknown %s word %q, did you mean %q?", ErrInvalidMnemonic, wl.name, w, s)
			}
			return Identity{}, fmt.Errorf("%w: unknown %s word %q", ErrInvalidMnemonic, wl.name, w)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	defer clear(seed)

	wallet, err := hdwallet.NewFromSeed(seed)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	path := d.Path
	if strings.TrimSpace(path) == "" {
		path = DefaultDerivationPath
	}
	dp, err := hdwallet.ParseDerivationPath(path)
	if err != nil {
		return Identity{}, fmt.Errorf("derivation path %q: %w", path, err)
	}
	account, err := wallet.Derive(dp, false)
	if err != nil {
		return Identity{}, fmt.Errorf("derive %s: %w", path, err)
	}
	raw, err := wallet.PrivateKeyBytes(account)
	if err != nil {
		return Identity{}, fmt.Errorf("derive %s: %w", path, err)
	}
	defer clear(raw)
	return identityFromPrivateKey(raw)
}
