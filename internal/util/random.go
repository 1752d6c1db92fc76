package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID in the format
// "{prefix}{hex_string}". Not for cryptographic use.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}
	return builder.String()
}

// GenerateEventID generates a unique inbound event ID with "e_" prefix,
// used where a transport does not supply its own message ID.
func GenerateEventID() string {
	return GenerateRandomID("e_", 32)
}
