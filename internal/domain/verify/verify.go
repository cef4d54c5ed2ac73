// Package verify mints and checks the tamper-evidence identifiers attached to
// every assessment.
package verify

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
)

const (
	hashLength       = 64
	txHexLength      = 64
	txPrefix         = "0x"
	hashAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	hexLowerAlphabet = "0123456789abcdef"
)

var alphabetSize = big.NewInt(int64(len(hashAlphabet)))

// NewVerificationHash returns 64 characters drawn uniformly from [A-Za-z0-9].
func NewVerificationHash() string {
	var b strings.Builder
	b.Grow(hashLength)
	for range hashLength {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			// crypto/rand never fails on supported platforms.
			panic(err)
		}
		b.WriteByte(hashAlphabet[n.Int64()])
	}
	return b.String()
}

// NewTransactionID returns "0x" followed by 64 lowercase hex characters.
func NewTransactionID() string {
	buf := make([]byte, txHexLength/2)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return txPrefix + hex.EncodeToString(buf)
}

// VerifyHash reports whether h has the shape of a verification hash.
func VerifyHash(h string) bool {
	if len(h) != hashLength {
		return false
	}
	for i := 0; i < len(h); i++ {
		if strings.IndexByte(hashAlphabet, h[i]) < 0 {
			return false
		}
	}
	return true
}

// VerifyTransactionID reports whether tx has the shape of a transaction id.
func VerifyTransactionID(tx string) bool {
	if !strings.HasPrefix(tx, txPrefix) || len(tx) != len(txPrefix)+txHexLength {
		return false
	}
	for i := len(txPrefix); i < len(tx); i++ {
		if strings.IndexByte(hexLowerAlphabet, tx[i]) < 0 {
			return false
		}
	}
	return true
}

// Result is the verification report for one assessment.
type Result struct {
	HashValid        bool `json:"hashValid"`
	TransactionValid bool `json:"transactionValid"`
	Verified         bool `json:"verified"`
}

// Check verifies both identifiers of a record.
func Check(hash, tx string) Result {
	r := Result{HashValid: VerifyHash(hash), TransactionValid: VerifyTransactionID(tx)}
	r.Verified = r.HashValid && r.TransactionValid
	return r
}
