package crypt

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
)

func mustKeypair(t *testing.T) *Keypair {
	t.Helper()
	kp, err := GenerateKeypair(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return kp
}

func TestPublicKeyBase58(t *testing.T) {
	kp := mustKeypair(t)
	enc := kp.PublicKeyBase58()
	raw, err := base58.Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(raw, kp.Public[:]) {
		t.Fatal("base58 round trip mismatch")
	}
}

func TestOpenBox(t *testing.T) {
	dapp := mustKeypair(t)
	wallet := mustKeypair(t)

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		t.Fatal(err)
	}
	msg := []byte(`{"public_key":"Addr"}`)
	sealed := SealBox(msg, &nonce, dapp.Public, wallet.Secret)

	t.Run("valid", func(t *testing.T) {
		got, err := OpenBox(sealed, nonce[:], wallet.Public[:], dapp.Secret)
		if err != nil {
			t.Fatalf("OpenBox: %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("plaintext = %q", got)
		}
	})

	t.Run("tampered", func(t *testing.T) {
		bad := append([]byte(nil), sealed...)
		bad[len(bad)-1] ^= 0xff
		if _, err := OpenBox(bad, nonce[:], wallet.Public[:], dapp.Secret); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("err = %v, want ErrDecrypt", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other := mustKeypair(t)
		if _, err := OpenBox(sealed, nonce[:], wallet.Public[:], other.Secret); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("err = %v, want ErrDecrypt", err)
		}
	})

	t.Run("short nonce", func(t *testing.T) {
		if _, err := OpenBox(sealed, nonce[:10], wallet.Public[:], dapp.Secret); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("err = %v, want ErrDecrypt", err)
		}
	})

	t.Run("short peer key", func(t *testing.T) {
		if _, err := OpenBox(sealed, nonce[:], wallet.Public[:5], dapp.Secret); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("err = %v, want ErrDecrypt", err)
		}
	})
}

func TestVault(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	v, err := NewVault(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	enc, err := v.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if enc == "secret" {
		t.Fatal("ciphertext equals plaintext")
	}
	dec, err := v.Decrypt(enc)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if dec != "secret" {
		t.Fatalf("Decrypt = %q", dec)
	}

	if _, err := v.Decrypt(base64.StdEncoding.EncodeToString([]byte("x"))); err == nil {
		t.Fatal("expected error for short ciphertext")
	}
}

func TestNewVaultRejectsBadKeys(t *testing.T) {
	if _, err := NewVault("not base64!"); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := NewVault(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("expected length error")
	}
}
