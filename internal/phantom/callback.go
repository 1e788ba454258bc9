package phantom

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/mr-tron/base58"

	"phantom-wallet-bot/internal/crypt"
)

// Callback decode failures. crypt.ErrDecrypt is returned for boxes that fail to open.
var (
	ErrMissingParams = errors.New("missing wallet data or telegram id")
	ErrDecode        = errors.New("malformed wallet payload")
	ErrNoPublicKey   = errors.New("no public key in wallet payload")
)

// ProviderError is an error reported by the wallet app through errorCode/errorMessage.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("phantom error %s: %s", e.Code, e.Message)
}

// Linked is the result every successful callback converges on.
type Linked struct {
	ChatUserID string
	Address    string
}

// Callback is one of ProviderFailure, PlainPayload or EncryptedPayload.
type Callback interface {
	// Decode extracts the wallet address.
	Decode(secret *[crypt.KeySize]byte) (Linked, error)
	variant() string
}

// PlainPayload carries base64 JSON in the d parameter.
type PlainPayload struct {
	ChatUserID string
	Data       string
}

// EncryptedPayload carries a box sealed for the dapp key.
type EncryptedPayload struct {
	ChatUserID      string
	WalletPublicKey string // base58
	Nonce           string // base58
	Data            string // base58
}

// ProviderFailure wraps a provider-reported error as a Callback.
type ProviderFailure struct {
	Err *ProviderError
}

func (PlainPayload) variant() string     { return "plain" }
func (EncryptedPayload) variant() string { return "encrypted" }
func (ProviderFailure) variant() string  { return "provider_error" }

// Variant names the callback shape for logging.
func Variant(cb Callback) string {
	return cb.variant()
}

// ParseCallback selects the callback variant from the query parameters present.
func ParseCallback(q url.Values) Callback {
	if code := q.Get("errorCode"); code != "" {
		return ProviderFailure{Err: &ProviderError{Code: code, Message: unescape(q.Get("errorMessage"))}}
	}
	id := strings.TrimSpace(q.Get("telegramId"))
	if q.Has("phantom_encryption_public_key") || q.Has("nonce") || q.Has("data") {
		return EncryptedPayload{
			ChatUserID:      id,
			WalletPublicKey: q.Get("phantom_encryption_public_key"),
			Nonce:           q.Get("nonce"),
			Data:            q.Get("data"),
		}
	}
	return PlainPayload{ChatUserID: id, Data: q.Get("d")}
}

// Decode implements Callback.
func (p ProviderFailure) Decode(*[crypt.KeySize]byte) (Linked, error) {
	return Linked{}, p.Err
}

// Decode implements Callback.
func (p PlainPayload) Decode(*[crypt.KeySize]byte) (Linked, error) {
	if p.ChatUserID == "" || p.Data == "" {
		return Linked{}, ErrMissingParams
	}
	raw, err := decodeBase64(p.Data)
	if err != nil {
		return Linked{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return extract(p.ChatUserID, raw)
}

// Decode implements Callback.
func (p EncryptedPayload) Decode(secret *[crypt.KeySize]byte) (Linked, error) {
	if p.ChatUserID == "" || p.WalletPublicKey == "" || p.Nonce == "" || p.Data == "" {
		return Linked{}, ErrMissingParams
	}
	peer, err := base58.Decode(p.WalletPublicKey)
	if err != nil {
		return Linked{}, fmt.Errorf("%w: public key: %v", ErrDecode, err)
	}
	nonce, err := base58.Decode(p.Nonce)
	if err != nil {
		return Linked{}, fmt.Errorf("%w: nonce: %v", ErrDecode, err)
	}
	data, err := base58.Decode(p.Data)
	if err != nil {
		return Linked{}, fmt.Errorf("%w: data: %v", ErrDecode, err)
	}
	plain, err := crypt.OpenBox(data, nonce, peer, secret)
	if err != nil {
		return Linked{}, err
	}
	if !utf8.Valid(plain) {
		return Linked{}, fmt.Errorf("%w: payload is not UTF-8", ErrDecode)
	}
	return extract(p.ChatUserID, plain)
}

type connectPayload struct {
	PublicKey string `json:"public_key"`
	Session   string `json:"session,omitempty"`
}

func extract(chatUserID string, raw []byte) (Linked, error) {
	var payload connectPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Linked{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if payload.PublicKey == "" {
		return Linked{}, ErrNoPublicKey
	}
	return Linked{ChatUserID: chatUserID, Address: payload.PublicKey}, nil
}

// decodeBase64 accepts standard and URL alphabets, padded or not.
// A '+' turned into a space by form decoding is restored.
func decodeBase64(s string) ([]byte, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "+")
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// unescape undoes a second round of percent-encoding some wallet versions apply.
func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}
