// Package util provides small helpers shared across GrowthGovernor components.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID returns "{prefix}{hex}" with hexLength random hex digits.
// Ids are not secrets; math/rand/v2 is sufficient.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random lowercase hexadecimal string of the specified length.
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
