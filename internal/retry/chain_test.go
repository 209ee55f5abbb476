package retry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func step(name string, ok bool, ran *[]string) Fallback {
	return Fallback{Name: name, Run: func(context.Context) bool {
		*ran = append(*ran, name)
		return ok
	}}
}

func TestFallbackChain(t *testing.T) {
	t.Run("first step succeeds", func(t *testing.T) {
		var ran []string
		res := FallbackChain{step("escalate", true, &ran), step("dead_letter", true, &ran)}.Execute(context.Background())
		assert.Equal(t, "escalate", res.Completed)
		assert.Equal(t, []string{"escalate"}, ran)
		assert.False(t, res.Lost())
	})

	t.Run("falls through to second", func(t *testing.T) {
		var ran []string
		res := FallbackChain{step("escalate", false, &ran), step("dead_letter", true, &ran)}.Execute(context.Background())
		assert.Equal(t, "dead_letter", res.Completed)
		assert.Equal(t, []string{"escalate", "dead_letter"}, res.Attempted)
	})

	t.Run("ends in reported loss", func(t *testing.T) {
		var ran []string
		res := FallbackChain{step("escalate", false, &ran), step("dead_letter", false, &ran)}.Execute(context.Background())
		assert.Equal(t, ReportedLoss, res.Completed)
		assert.True(t, res.Lost())
	})

	t.Run("empty chain is a loss", func(t *testing.T) {
		assert.True(t, FallbackChain{}.Execute(context.Background()).Lost())
	})
}
