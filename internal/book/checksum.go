package book

import (
	"hash/crc32"
	"strings"

	"deskbot/pkg/types"
)

// depthForChecksum is the number of top levels per side fed into the CRC
// (§4.5 "top-10 asks followed by top-10 bids").
const depthForChecksum = 10

// Checksum computes the local CRC32 per §4.5: the concatenation of each
// level's price then quantity, as ASCII decimal strings with every
// non-digit character stripped, for the top 10 asks followed by the top 10
// bids.
//
// The exact stringification rules are exchange-specific and must be
// validated against recorded fixtures before the mismatch path is trusted
// in production (§9 "Checksum encoding ambiguity") — this implementation
// follows the most common exchange convention (strip decimal points and
// leading zeros, keep significant digits) as the default.
func Checksum(asks, bids []types.Level) uint32 {
	var b strings.Builder
	appendLevels(&b, asks)
	appendLevels(&b, bids)

	return crc32.ChecksumIEEE([]byte(b.String()))
}

func appendLevels(b *strings.Builder, levels []types.Level) {
	n := len(levels)
	if n > depthForChecksum {
		n = depthForChecksum
	}
	for i := 0; i < n; i++ {
		b.WriteString(digitsOnly(levels[i].Price.String()))
		b.WriteString(digitsOnly(levels[i].Qty.String()))
	}
}

// digitsOnly strips every non-digit character and any resulting leading
// zeros, preserving significant digits (§4.5).
func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(b.String(), "0")
	if out == "" {
		return "0"
	}
	return out
}
