// Package password generates tenant passwords.
package password

import (
	"crypto/rand"
	"math/big"
)

// Length is the fixed length of every generated password.
const Length = 20

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a fresh password drawn uniformly from the
// alphanumeric alphabet. The result is alphanumeric only so it is safe
// to embed in connection strings and SQL literals without escaping.
func Generate() string {
	buf := make([]byte, Length)
	size := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			// crypto/rand reads the kernel CSPRNG; failure means the
			// platform is unusable.
			panic(err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf)
}
