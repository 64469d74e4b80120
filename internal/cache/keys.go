package cache

import "strings"

// Key joins normalized parts into a deterministic cache key. Every caller
// must normalize identically (uppercase no-space postcodes, 4-dp rounded
// coordinates, lowercased addresses) or hit rate silently degrades.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

// PostcodePart normalizes a postcode for keying: uppercase, whitespace
// stripped.
func PostcodePart(postcode string) string {
	return strings.ToUpper(strings.ReplaceAll(postcode, " ", ""))
}

// AddressPart normalizes a free-text address for keying.
func AddressPart(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}
