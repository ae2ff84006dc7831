package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRow(t *testing.T) {
	base := Row("Jane Smith", "(707) 555-1212", "jane@example.com", "123 Main St")

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, base, Row("Jane Smith", "(707) 555-1212", "jane@example.com", "123 Main St"))
	})

	t.Run("case folded", func(t *testing.T) {
		assert.Equal(t, base, Row("JANE SMITH", "(707) 555-1212", "Jane@Example.com", "123 MAIN ST"))
	})

	t.Run("whitespace folded", func(t *testing.T) {
		assert.Equal(t, base, Row("  Jane   Smith ", "(707) 555-1212", "jane@example.com", "123  Main  St"))
	})

	t.Run("content change produces new hash", func(t *testing.T) {
		assert.NotEqual(t, base, Row("Jane Smithe", "(707) 555-1212", "jane@example.com", "123 Main St"))
	})

	t.Run("fields are positional", func(t *testing.T) {
		// a value moving between fields is a change, not a re-observation
		assert.NotEqual(t, Row("x", "", "", ""), Row("", "x", "", ""))
	})

	t.Run("empty row hashes", func(t *testing.T) {
		assert.Len(t, Row("", "", "", ""), 64)
	})
}

func TestHasChanged(t *testing.T) {
	assert.False(t, HasChanged("abc", "abc"))
	assert.True(t, HasChanged("abc", "abd"))
}
