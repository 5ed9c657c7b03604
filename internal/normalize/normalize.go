// Package normalize provides the canonical string forms shared by every
// layer: warehouse lookups, cache keys, output parsing, and artifact
// writing all compare vehicles, sizes, and product IDs through these
// functions.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	nonAlnumRE = regexp.MustCompile(`[^a-z0-9]`)

	// sizeCoreRE matches the load-bearing part of a tyre size in any of
	// the market's common shapes: 205/70R15, 225/40 ZR18, 31/10.50 R15,
	// 7.50 R16, 31x10.50 R15.
	sizeCoreRE = regexp.MustCompile(`(?i)\b(` +
		`\d{3}/\d{2}\s*[A-Z]{0,2}R\d{2}` +
		`|\d{2}/(?:\d{3,4}|\d{2}\.\d{2})\s*[A-Z]{0,2}R\d{2}` +
		`|\d{1,2}\.\d{2}\s*[A-Z]{0,2}R\d{2}` +
		`|\d{1,2}x\d{2}\.\d{2}\s*[A-Z]{0,2}R\d{2}` +
		`)\b`)

	// rimSeparatorRE captures a digit glued to the rim marker so a single
	// space can be reinserted: 205/70R15 -> 205/70 R15, 225/40ZR18 ->
	// 225/40 ZR18.
	rimSeparatorRE = regexp.MustCompile(`(?i)(\d)([A-Z]{0,2})R(\d)`)

	letterDigitRE = regexp.MustCompile(`([A-Za-z])(\d)`)
	whitespaceRE  = regexp.MustCompile(`\s+`)
)

// Compare reduces a string to lowercase ASCII letters and digits. Two
// strings are "the same" for matching purposes when their Compare forms
// are equal.
func Compare(s string) string {
	return nonAlnumRE.ReplaceAllString(strings.ToLower(s), "")
}

// Size canonicalizes a tyre size for warehouse lookups and cache keys:
// case-insensitive, space-free.
func Size(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "")
}

// Vehicle canonicalizes a vehicle string: alphanumeric runes only,
// lowercased.
func Vehicle(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// IsProductID reports whether s is a valid warehouse product ID: digits
// only, seven or eight of them.
func IsProductID(s string) bool {
	if len(s) != 7 && len(s) != 8 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// SpaceSize reinstates the single space before the rim marker
// ("205/70R15" -> "205/70 R15") and collapses runs of whitespace.
func SpaceSize(s string) string {
	s = rimSeparatorRE.ReplaceAllString(s, "$1 ${2}R$3")
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// Repair untangles a vehicle/size pair that upstream feeds routinely
// garble. A model-text prefix stuck in the size field moves into the
// vehicle; a size embedded in the vehicle field is extracted; the vehicle
// gets a space between trailing letters and digits ("ROVER90" ->
// "ROVER 90"); the size gets its canonical rim spacing. Repairing an
// already repaired pair changes nothing.
func Repair(vehicle, size string) (string, string) {
	v := strings.TrimSpace(vehicle)
	s := strings.TrimSpace(size)

	if loc := sizeCoreRE.FindStringSubmatchIndex(s); loc != nil {
		prefix := strings.TrimSpace(s[:loc[0]])
		core := s[loc[2]:loc[3]]
		s = core
		if prefix != "" {
			v = strings.TrimSpace(v + " " + prefix)
		}
	} else if loc := sizeCoreRE.FindStringSubmatchIndex(v); loc != nil {
		s = v[loc[2]:loc[3]]
		v = strings.TrimSpace(v[:loc[0]] + " " + v[loc[1]:])
	}

	v = letterDigitRE.ReplaceAllString(v, "$1 $2")
	v = strings.TrimSpace(whitespaceRE.ReplaceAllString(v, " "))

	return v, SpaceSize(s)
}
