package crypt

import (
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/box"
)

const (
	// KeySize is the length of a box public or secret key.
	KeySize = 32
	// NonceSize is the length of a box nonce.
	NonceSize = 24
)

// ErrDecrypt reports a box that failed to authenticate under the given keys.
var ErrDecrypt = errors.New("box authentication failed")

// Keypair is the process-lifetime x25519 keypair advertised in connect links.
type Keypair struct {
	Public *[KeySize]byte
	Secret *[KeySize]byte
}

// GenerateKeypair creates a fresh keypair from r (crypto/rand.Reader in production).
func GenerateKeypair(r io.Reader) (*Keypair, error) {
	pub, sec, err := box.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate box keypair: %w", err)
	}
	return &Keypair{Public: pub, Secret: sec}, nil
}

// PublicKeyBase58 returns the public half in URL-safe base58.
func (k *Keypair) PublicKeyBase58() string {
	return EncodePublicKey(k.Public)
}

// EncodePublicKey encodes a box public key as base58.
func EncodePublicKey(pub *[KeySize]byte) string {
	return base58.Encode(pub[:])
}

// OpenBox decrypts ciphertext sealed by peerPublicKey for ownSecret.
// Malformed key or nonce lengths are reported as ErrDecrypt as well.
func OpenBox(ciphertext, nonce, peerPublicKey []byte, ownSecret *[KeySize]byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes", ErrDecrypt, len(nonce))
	}
	if len(peerPublicKey) != KeySize {
		return nil, fmt.Errorf("%w: peer key is %d bytes", ErrDecrypt, len(peerPublicKey))
	}
	if ownSecret == nil {
		return nil, fmt.Errorf("%w: no secret key", ErrDecrypt)
	}

	var n [NonceSize]byte
	var peer [KeySize]byte
	copy(n[:], nonce)
	copy(peer[:], peerPublicKey)

	plain, ok := box.Open(nil, ciphertext, &n, &peer, ownSecret)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// SealBox encrypts message from ownSecret to peerPublicKey.
func SealBox(message []byte, nonce *[NonceSize]byte, peerPublicKey, ownSecret *[KeySize]byte) []byte {
	return box.Seal(nil, message, nonce, peerPublicKey, ownSecret)
}
