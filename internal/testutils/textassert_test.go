package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextAsserter_Diff(t *testing.T) {
	ta := NewTextAsserter(t)

	assert.Empty(t, ta.Diff("a  \nb\t\n", "a\nb\n"), "trailing whitespace MUST be ignored by default")

	diff := ta.Diff("a\nc\n", "a\nb\n")
	assert.Contains(t, diff, "-b")
	assert.Contains(t, diff, "+c")
}

func TestTextAsserter_IgnoreEmptyLines(t *testing.T) {
	ta := NewTextAsserter(t).WithOptions(WithIgnoreEmptyLines(true))
	assert.Empty(t, ta.Diff("a\n\n\nb", "a\nb"))

	strict := NewTextAsserter(t)
	assert.NotEmpty(t, strict.Diff("a\n\nb", "a\nb"))
}

func TestTextAsserter_Colors(t *testing.T) {
	ta := NewTextAsserter(t).WithOptions(WithEnableColors(true))
	diff := ta.Diff("x", "y")

	assert.Contains(t, diff, "\x1b[", "colored diff MUST contain ANSI escapes")
}

func TestTextAsserter_ReportsFailure(t *testing.T) {
	rec := &recordingT{}

	assert.False(t, NewTextAsserter(rec).Assert("actual", "expected"))
	assert.Len(t, rec.errors, 1)
}
