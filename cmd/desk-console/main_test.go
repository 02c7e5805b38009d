// ABOUTME: Tests for console text helpers.
// ABOUTME: Covers rune-safe preview truncation.

package main

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	long := strings.Repeat("ñ", 30)
	got := truncate(long, 13)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("ñ", 10)+"...", got)

	// Byte length over the limit but rune length within it stays whole.
	assert.Equal(t, "ñññññ", truncate("ñññññ", 8))
}
