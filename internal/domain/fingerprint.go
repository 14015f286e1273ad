package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// fingerprintSeparator cannot appear in a query, URL or path typed by an operator.
const fingerprintSeparator = "\x1f"

// Fingerprint hashes the ordered parameters that identify one logical run.
// Equal inputs always produce the same key; any change produces a different one.
func Fingerprint(inputs ...string) string {
	sum := xxhash.Sum64String(strings.Join(inputs, fingerprintSeparator))
	return fmt.Sprintf("%016x", sum)
}

// LimitString renders a record limit for fingerprinting, where <= 0 means unbounded.
func LimitString(limit int) string {
	if limit <= 0 {
		return "unbounded"
	}
	return strconv.Itoa(limit)
}
