package hash

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// HashString returns the xxhash64 of s as 16 hex digits.
func HashString(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}
