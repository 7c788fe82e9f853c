package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextMonotonic(t *testing.T) {
	g := New()
	prev := ""
	for i := 0; i < 1000; i++ {
		id := g.Next(KindMessage)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNextAcrossKindsSharesClock(t *testing.T) {
	g := New()
	a := g.Next(KindSummary)
	b := g.Next(KindMessage)
	assert.Greater(t, strings.TrimPrefix(b, "message_"), strings.TrimPrefix(a, "summary_"))
}

func TestNextRandomSuffixUnique(t *testing.T) {
	g := New()
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := g.NextRandomSuffix(KindWorker)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
