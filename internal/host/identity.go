package host

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var ErrInvalidKey = errors.New("host: invalid private key")

// Identity is what a derivation yields. Only Address is sent to the front-end.
type Identity struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

func identityFromPrivateKey(raw []byte) (Identity, error) {
	if len(raw) != 32 {
		return Identity{}, fmt.Errorf("%w: want 32 bytes, got %d", ErrInvalidKey, len(raw))
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	defer priv.Zero()
	if priv.Key.IsZero() {
		return Identity{}, fmt.Errorf("%w: zero scalar", ErrInvalidKey)
	}
	pub := priv.PubKey()

	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	sum := h.Sum(nil)

	return Identity{
		Address:   common.BytesToAddress(sum[12:]).Hex(),
		PublicKey: "0x" + hex.EncodeToString(pub.SerializeCompressed()),
	}, nil
}
