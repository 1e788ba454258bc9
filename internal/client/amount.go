package client

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// SOLDecimals is the number of lamport decimals in one SOL.
const SOLDecimals = 9

// LamportsToSOL converts lamports to a SOL string without float precision loss.
// Trailing zeros are trimmed: 1500000000 -> "1.5".
func LamportsToSOL(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -SOLDecimals).String()
}
