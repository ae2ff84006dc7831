// Package normalizers provides field normalization for matching and aliasing
package normalizers

import (
	"regexp"
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value. Normalizers are
// total and idempotent: any input is accepted, malformed input degrades to
// "" (the canonical "no value"), and normalize(normalize(x)) == normalize(x).
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("nphone", NormalizePhone)
	Register("nemail", NormalizeEmail)
	Register("nname", NormalizeName)
	Register("naddress", NormalizeAddress)
	Register("digits_only", DigitsOnly)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizePhone canonicalizes a phone number for comparison.
// - strips all non-digits
// - empty -> ""
// - exactly 10 digits: assumed US, prefixed with +1
// - 11 or more digits: prefixed with + as-is
// - fewer than 10 digits: returned as bare digits (accepted imprecision;
//   short numbers never produce a match because both sides normalize the
//   same way)
func NormalizePhone(s string) string {
	if strings.HasPrefix(strings.TrimSpace(s), "+") {
		// Already canonical or close to it; re-derive from digits so the
		// function stays idempotent.
		s = strings.TrimSpace(s)[1:]
	}
	digits := DigitsOnly(s)
	switch {
	case digits == "":
		return ""
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) >= 11:
		return "+" + digits
	default:
		return digits
	}
}

// NormalizeName canonicalizes a person or place name for comparison:
// lowercased, punctuation stripped, internal whitespace collapsed.
// Empty after normalization -> "".
func NormalizeName(s string) string {
	s = strings.ToLower(s)

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) || unicode.IsPunct(r) {
			if !prevSpace && result.Len() > 0 {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// emailShape is a deliberately minimal check: something@something.something
var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// emailDenyList rejects placeholder values that intake forms are full of.
var emailDenyList = map[string]bool{
	"n/a":             true,
	"na":              true,
	"none":            true,
	"no":              true,
	"x":               true,
	"unknown":         true,
	"test":            true,
	"test@test.com":   true,
	"none@none.com":   true,
	"no@email.com":    true,
	"noemail@no.com":  true,
	"declined":        true,
	"refused":         true,
}

// NormalizeEmail canonicalizes an email address: lowercase, trimmed, with
// any "+tag" suffix dropped from the local part so alice+intake@example.com
// and alice@example.com compare equal. Values that fail the minimal shape
// check or sit on the placeholder deny list normalize to "".
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || emailDenyList[s] {
		return ""
	}
	if !emailShape.MatchString(s) {
		return ""
	}
	if at := strings.IndexByte(s, '@'); at > 0 {
		if plus := strings.IndexByte(s[:at], '+'); plus > 0 {
			s = s[:plus] + s[at:]
		}
	}
	return s
}

var addressAbbreviations = []struct{ full, abbr string }{
	{" street", " st"},
	{" avenue", " ave"},
	{" boulevard", " blvd"},
	{" drive", " dr"},
	{" road", " rd"},
	{" lane", " ln"},
	{" court", " ct"},
	{" circle", " cir"},
	{" place", " pl"},
	{" highway", " hwy"},
	{" apartment", " apt"},
	{" suite", " ste"},
	{" north", " n"},
	{" south", " s"},
	{" east", " e"},
	{" west", " w"},
}

var addressSpaces = regexp.MustCompile(`\s+`)
var addressPunct = regexp.MustCompile(`[.,#]`)

// NormalizeAddress canonicalizes an address string for proximity comparison:
// lowercased, punctuation dropped, common suffixes abbreviated, whitespace
// collapsed.
func NormalizeAddress(s string) string {
	s = strings.ToLower(s)
	s = addressPunct.ReplaceAllString(s, " ")

	for _, r := range addressAbbreviations {
		s = strings.ReplaceAll(s, r.full, r.abbr)
	}

	s = addressSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
