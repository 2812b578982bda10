package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomHex generates a random hexadecimal string of the specified
// length. Not cryptographic; identifiers only.
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

// GeneratePlanGuid generates a schedule plan guid for plans posted without one.
func GeneratePlanGuid() string {
	return "plan_" + GenerateRandomHex(32)
}
