// Package snapshot mints attempt keys for fresh work items. A key doubles as
// the storage name of the attempt's results, hence the ".json" suffix.
package snapshot

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

const (
	prefix   = "snapshot_"
	suffix   = ".json"
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// IDLength is the number of random characters in a key.
	IDLength = 10
)

// Minter produces keys of the form snapshot_<10 alphanumerics>.json.
type Minter struct{}

// New returns a Minter.
func New() *Minter {
	return &Minter{}
}

// NewKey draws IDLength characters uniformly from [A-Za-z0-9].
func (Minter) NewKey() (scrape.AttemptKey, error) {
	buf := make([]byte, IDLength)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("mint attempt key: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return scrape.AttemptKey(prefix + string(buf) + suffix), nil
}

// Valid reports whether key has the minted shape.
func Valid(key scrape.AttemptKey) bool {
	s := string(key)
	if len(s) != len(prefix)+IDLength+len(suffix) {
		return false
	}
	if s[:len(prefix)] != prefix || s[len(s)-len(suffix):] != suffix {
		return false
	}
	for _, c := range s[len(prefix) : len(prefix)+IDLength] {
		if !isAlnum(c) {
			return false
		}
	}
	return true
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
