package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures assertion failures instead of failing the test.
type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *recordingT) Helper() {}

func TestJSONAsserter_Defaults(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()

	assert.True(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.NilToEmptyArray)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		opts     []Option
		match    bool
	}{
		{
			name:     "identical objects",
			actual:   `{"id":"AA","state":"ready"}`,
			expected: `{"id":"AA","state":"ready"}`,
			match:    true,
		},
		{
			name:     "extra keys ignored by default",
			actual:   `{"id":"AA","state":"ready","rssi":-40}`,
			expected: `{"id":"AA","state":"ready"}`,
			match:    true,
		},
		{
			name:     "extra keys reported when strict",
			actual:   `{"id":"AA","rssi":-40}`,
			expected: `{"id":"AA"}`,
			opts:     []Option{WithIgnoreExtraKeys(false)},
			match:    false,
		},
		{
			name:     "value mismatch",
			actual:   `{"id":"AA","state":"connecting"}`,
			expected: `{"id":"AA","state":"ready"}`,
			match:    false,
		},
		{
			name:     "presence placeholder",
			actual:   `{"id":"AA","updated_at":"2025-01-01T00:00:00Z"}`,
			expected: `{"id":"AA","updated_at":"<<PRESENCE>>"}`,
			match:    true,
		},
		{
			name:     "presence placeholder requires key",
			actual:   `{"id":"AA"}`,
			expected: `{"id":"AA","updated_at":"<<PRESENCE>>"}`,
			match:    false,
		},
		{
			name:     "null equals empty array",
			actual:   `{"characteristics":null}`,
			expected: `{"characteristics":[]}`,
			match:    true,
		},
		{
			name:     "missing equals empty array",
			actual:   `{"id":"AA"}`,
			expected: `{"id":"AA","characteristics":[]}`,
			match:    true,
		},
		{
			name:     "ignored fields at any depth",
			actual:   `[{"id":"AA","updated_at":"x"},{"id":"BB","updated_at":"y"}]`,
			expected: `[{"id":"AA","updated_at":"z"},{"id":"BB"}]`,
			opts:     []Option{WithIgnoredFields("updated_at")},
			match:    true,
		},
		{
			name:     "root arrays compared in order",
			actual:   `[{"id":"BB"},{"id":"AA"}]`,
			expected: `[{"id":"AA"},{"id":"BB"}]`,
			match:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestJSONAsserter_ReportsFailure(t *testing.T) {
	rec := &recordingT{}

	ok := NewJSONAsserter(rec).Assert(`{"state":"connecting"}`, `{"state":"ready"}`)

	assert.False(t, ok)
	if assert.Len(t, rec.errors, 1) {
		assert.Contains(t, rec.errors[0], "JSON assertion failed")
	}
}

func TestJSONAsserter_InvalidInput(t *testing.T) {
	diff := NewJSONAsserter(t).Diff(`{`, `{}`)
	assert.Contains(t, diff, "invalid actual JSON")

	diff = NewJSONAsserter(t).Diff(`{}`, `nope`)
	assert.Contains(t, diff, "invalid expected JSON")
}

func TestJSONAsserter_AssertValue(t *testing.T) {
	type peripheral struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}

	NewJSONAsserter(t).AssertValue([]peripheral{{ID: "AA", State: "ready"}}, `[{"id":"AA","state":"ready"}]`)
}
