package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "formatted US number",
			input:    "(707) 555-1212",
			expected: "+17075551212",
		},
		{
			name:     "bare ten digits",
			input:    "7075551212",
			expected: "+17075551212",
		},
		{
			name:     "eleven digits with country code",
			input:    "17075551212",
			expected: "+17075551212",
		},
		{
			name:     "already canonical",
			input:    "+17075551212",
			expected: "+17075551212",
		},
		{
			name:     "international number",
			input:    "+44 20 7946 0958",
			expected: "+442079460958",
		},
		{
			name:     "dots and dashes",
			input:    "707.555.1212",
			expected: "+17075551212",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
		{
			name:     "letters only",
			input:    "call the front desk",
			expected: "",
		},
		{
			name:     "short number degrades to digits",
			input:    "555-1212",
			expected: "5551212",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePhone(tt.input))
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "mixed case and punctuation",
			input:    "  Smith,  Robert Jr. ",
			expected: "smith robert jr",
		},
		{
			name:     "collapses internal whitespace",
			input:    "Alice    Smith",
			expected: "alice smith",
		},
		{
			name:     "apostrophe becomes separator",
			input:    "O'Brien",
			expected: "o brien",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
		{
			name:     "only punctuation",
			input:    "???",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "upper case trimmed",
			input:    "  Alice@Example.COM ",
			expected: "alice@example.com",
		},
		{
			name:     "placeholder n/a",
			input:    "N/A",
			expected: "",
		},
		{
			name:     "placeholder none@none.com",
			input:    "none@none.com",
			expected: "",
		},
		{
			name:     "plus tag stripped",
			input:    "Alice+intake@example.com",
			expected: "alice@example.com",
		},
		{
			name:     "leading plus kept",
			input:    "+alice@example.com",
			expected: "+alice@example.com",
		},
		{
			name:     "missing domain",
			input:    "alice@",
			expected: "",
		},
		{
			name:     "no tld",
			input:    "alice@localhost",
			expected: "",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeEmail(tt.input))
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "suffix abbreviation",
			input:    "123 Main Street",
			expected: "123 main st",
		},
		{
			name:     "apartment and direction",
			input:    "456 North Oak Avenue, Apartment 2",
			expected: "456 n oak ave apt 2",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAddress(tt.input))
		})
	}
}

// Every normalizer must be idempotent and total over arbitrary strings.
func TestNormalizersIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"(707) 555-1212",
		"+17075551212",
		"Alice   Smith!!",
		"ALICE@EXAMPLE.COM",
		"n/a",
		"123 Main Street Apartment 4",
		"???###",
		"call the front desk",
	}

	fns := map[string]Normalizer{
		"nphone":   NormalizePhone,
		"nname":    NormalizeName,
		"nemail":   NormalizeEmail,
		"naddress": NormalizeAddress,
	}

	for name, fn := range fns {
		for _, input := range inputs {
			once := fn(input)
			twice := fn(once)
			assert.Equal(t, once, twice, "%s not idempotent for %q", name, input)
		}
	}
}

func TestRegistry(t *testing.T) {
	fn, ok := Get("nphone")
	assert.True(t, ok)
	assert.Equal(t, "+17075551212", fn("7075551212"))

	assert.Equal(t, "unchanged", Apply("unchanged", "does-not-exist"))
}
