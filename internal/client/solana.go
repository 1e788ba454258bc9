package client

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaClient is a client for working with Solana RPC
type SolanaClient struct {
	rpcClient *rpc.Client
	rpcURL    string
}

// NewSolanaClient creates a client for the given JSON-RPC endpoint.
func NewSolanaClient(rpcURL string) *SolanaClient {
	return &SolanaClient{
		rpcClient: rpc.New(rpcURL),
		rpcURL:    rpcURL,
	}
}

// Signature is one entry of an address's transaction history.
type Signature struct {
	Signature string
	Slot      uint64
	BlockTime *time.Time
	Failed    bool
}

// Balance gets the SOL balance of address in lamports.
func (c *SolanaClient) Balance(ctx context.Context, address string) (uint64, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("invalid Solana address: %w", err)
	}
	balance, err := c.rpcClient.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get SOL balance: %w", err)
	}
	return balance.Value, nil
}

// RecentSignatures returns up to limit of the newest signatures touching address.
func (c *SolanaClient) RecentSignatures(ctx context.Context, address string, limit int) ([]Signature, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid Solana address: %w", err)
	}
	sigs, err := c.rpcClient.GetSignaturesForAddressWithOpts(
		ctx,
		owner,
		&rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentConfirmed,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get signatures: %w", err)
	}

	out := make([]Signature, 0, len(sigs))
	for _, s := range sigs {
		if s == nil {
			continue
		}
		entry := Signature{
			Signature: s.Signature.String(),
			Slot:      s.Slot,
			Failed:    s.Err != nil,
		}
		if s.BlockTime != nil {
			t := s.BlockTime.Time()
			entry.BlockTime = &t
		}
		out = append(out, entry)
	}
	return out, nil
}

// ValidateAddress checks that s is a base58 encoded 32 byte public key.
func ValidateAddress(s string) error {
	if _, err := solana.PublicKeyFromBase58(s); err != nil {
		return fmt.Errorf("invalid Solana address: %w", err)
	}
	return nil
}

// GenerateWallet creates a new keypair and returns its address and base58 secret key.
func GenerateWallet() (address, secret string) {
	wallet := solana.NewWallet()
	return wallet.PublicKey().String(), wallet.PrivateKey.String()
}

// AddressFromSecret derives the wallet address from a base58 secret key.
func AddressFromSecret(secret string) (string, error) {
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return "", fmt.Errorf("invalid secret key: %w", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid secret key: want %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	return key.PublicKey().String(), nil
}
