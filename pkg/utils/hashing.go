package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// HashKey returns the hex blake2b-256 digest of the parts joined by '|'.
func HashKey(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the hex blake2b-256 digest of b.
func HashBytes(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NewMerchantTransactionID returns a numeric id unique enough to double as a
// payOS order code (which must fit in a JS safe integer).
func NewMerchantTransactionID(now time.Time) string {
	n, err := rand.Int(rand.Reader, big.NewInt(100))
	suffix := int64(0)
	if err == nil {
		suffix = n.Int64()
	}
	return strconv.FormatInt(now.UnixMilli()*100+suffix, 10)
}

// MaskVPA masks the local part of a UPI handle: "johndoe@okaxis" -> "jo*****@okaxis".
func MaskVPA(vpa string) string {
	vpa = strings.TrimSpace(vpa)
	if vpa == "" {
		return ""
	}
	local, bank, found := strings.Cut(vpa, "@")
	keep := 2
	if len(local) <= keep {
		keep = 1
	}
	if len(local) <= 1 {
		keep = 0
	}
	masked := local[:keep] + strings.Repeat("*", len(local)-keep)
	if !found {
		return masked
	}
	return masked + "@" + bank
}
