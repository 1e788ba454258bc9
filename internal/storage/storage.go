package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for a chat user id.
var ErrNotFound = errors.New("user not found")

// User links one chat user to a wallet.
type User struct {
	ChatUserID      string    `bson:"telegramId" json:"telegram_id"`
	WalletAddress   *string   `bson:"walletAddress" json:"wallet_address"`
	WalletName      string    `bson:"walletName,omitempty" json:"wallet_name,omitempty"`
	EncryptedSecret string    `bson:"encryptedSecret,omitempty" json:"encrypted_secret,omitempty"`
	Transactions    []string  `bson:"transactions,omitempty" json:"transactions,omitempty"`
	CreatedAt       time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt       time.Time `bson:"updatedAt" json:"updated_at"`
}

// HasWallet reports whether a wallet address is currently linked.
func (u *User) HasWallet() bool {
	return u != nil && u.WalletAddress != nil && *u.WalletAddress != ""
}

// Wallet returns the linked address or "".
func (u *User) Wallet() string {
	if !u.HasWallet() {
		return ""
	}
	return *u.WalletAddress
}

// Fields is a partial update. Nil pointers and nil slices leave the stored value alone.
type Fields struct {
	WalletAddress   *string
	ClearWallet     bool
	WalletName      *string
	EncryptedSecret *string
	Transactions    []string
	// Generated is written only when the record holds no sealed secret yet.
	Generated *GeneratedWallet
}

// GeneratedWallet is a locally created wallet: its address and the sealed secret key.
type GeneratedWallet struct {
	Address         string
	EncryptedSecret string
}

// LinkWallet sets the wallet address.
func LinkWallet(address string) Fields {
	return Fields{WalletAddress: &address}
}

// Disconnect clears the wallet address but keeps the record.
func Disconnect() Fields {
	return Fields{ClearWallet: true}
}

// Rename sets the wallet display name.
func Rename(name string) Fields {
	return Fields{WalletName: &name}
}

// CacheTransactions replaces the cached transaction signatures.
func CacheTransactions(sigs []string) Fields {
	if sigs == nil {
		sigs = []string{}
	}
	return Fields{Transactions: sigs}
}

// AdoptGenerated links a generated wallet unless the record already owns one.
// Callers compare the returned EncryptedSecret with their own to learn which won.
func AdoptGenerated(address, encryptedSecret string) Fields {
	return Fields{Generated: &GeneratedWallet{Address: address, EncryptedSecret: encryptedSecret}}
}

// apply merges f into u. Used by the bolt and memory backends.
func (f Fields) apply(u *User, now time.Time) {
	if f.WalletAddress != nil {
		addr := *f.WalletAddress
		u.WalletAddress = &addr
	}
	if f.ClearWallet {
		u.WalletAddress = nil
	}
	if f.WalletName != nil {
		u.WalletName = *f.WalletName
	}
	if f.EncryptedSecret != nil {
		u.EncryptedSecret = *f.EncryptedSecret
	}
	if f.Transactions != nil {
		u.Transactions = append([]string(nil), f.Transactions...)
	}
	if f.Generated != nil && u.EncryptedSecret == "" {
		addr := f.Generated.Address
		u.WalletAddress = &addr
		u.EncryptedSecret = f.Generated.EncryptedSecret
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
}

// Store is the user record repository.
type Store interface {
	// FindByChatID returns ErrNotFound when no record exists.
	FindByChatID(ctx context.Context, chatUserID string) (*User, error)
	// UpsertByChatID creates the record if absent, merges fields otherwise,
	// and returns the record after the update.
	UpsertByChatID(ctx context.Context, chatUserID string, fields Fields) (*User, error)
	ListAll(ctx context.Context) ([]User, error)
	Close(ctx context.Context) error
}

var nowFunc = time.Now
