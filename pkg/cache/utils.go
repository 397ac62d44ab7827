package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key joins parts into a colon separated key.
func Key(parts ...interface{}) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	return strings.Join(s, ":")
}

// HashKey shortens long keys such as serialized parameter sets.
func HashKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
