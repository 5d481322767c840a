package model

import "strings"

// Warehouse sizes ordered by capacity. Ranks are used to compare sizes;
// an unrecognized size has rank -1 and never matches a "large or bigger"
// test.
const (
	SizeXSmall  = "X-SMALL"
	SizeSmall   = "SMALL"
	SizeMedium  = "MEDIUM"
	SizeLarge   = "LARGE"
	SizeXLarge  = "X-LARGE"
	Size2XLarge = "2X-LARGE"
	Size3XLarge = "3X-LARGE"
	Size4XLarge = "4X-LARGE"
)

var sizeRanks = map[string]int{
	SizeXSmall:  0,
	SizeSmall:   1,
	SizeMedium:  2,
	SizeLarge:   3,
	SizeXLarge:  4,
	Size2XLarge: 5,
	Size3XLarge: 6,
	Size4XLarge: 7,
}

// SizeRank returns the capacity rank of a warehouse size name, or -1 if
// the size is unknown. Matching is case-insensitive and tolerates the
// "XSMALL"/"X-SMALL" spelling variants the view has used over time.
func SizeRank(size string) int {
	normalized := strings.ToUpper(strings.TrimSpace(size))
	if rank, ok := sizeRanks[normalized]; ok {
		return rank
	}
	// XSMALL, 2XLARGE etc. without the hyphen
	undashed := strings.ReplaceAll(normalized, "-", "")
	for name, rank := range sizeRanks {
		if strings.ReplaceAll(name, "-", "") == undashed {
			return rank
		}
	}
	return -1
}

// IsAtLeastLarge reports whether the size is LARGE or bigger.
func IsAtLeastLarge(size string) bool {
	return SizeRank(size) >= sizeRanks[SizeLarge]
}
