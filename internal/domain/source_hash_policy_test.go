package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"evidence-engine/internal/domain"
)

func TestSourceHashPolicy_Compute(t *testing.T) {
	policy := domain.NewSourceHashPolicy()

	t.Run("stable for identical input", func(t *testing.T) {
		a := policy.Compute("Access Policy", "All accounts are reviewed quarterly.")
		b := policy.Compute("Access Policy", "All accounts are reviewed quarterly.")
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("differs when body changes", func(t *testing.T) {
		a := policy.Compute("Access Policy", "All accounts are reviewed quarterly.")
		b := policy.Compute("Access Policy", "All accounts are reviewed monthly.")
		assert.NotEqual(t, a, b)
	})

	t.Run("title and body boundary is unambiguous", func(t *testing.T) {
		a := policy.Compute("ab", "c")
		b := policy.Compute("a", "bc")
		assert.NotEqual(t, a, b)
	})

	t.Run("surrounding whitespace is ignored", func(t *testing.T) {
		a := policy.Compute("  Access Policy  ", "body text\n")
		b := policy.Compute("Access Policy", "body text")
		assert.Equal(t, a, b)
	})
}
