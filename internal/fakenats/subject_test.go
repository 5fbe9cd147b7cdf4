package fakenats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectMatches(t *testing.T) {
	cases := []struct {
		pattern  string
		subject  string
		expected bool
	}{
		{"foo", "foo", true},
		{"foo", "bar", false},
		{"foo.*", "foo.bar", true},
		{"foo.*", "foo.bar.baz", false},
		{"foo.*", "foo", false},
		{"*.bar", "foo.bar", true},
		{"foo.*.baz", "foo.x.baz", true},
		{"foo.>", "foo.bar", true},
		{"foo.>", "foo.bar.baz", true},
		{"foo.>", "foo", false},
		{">", "anything.at.all", true},
		{"dea.*.start", "dea.1.start", true},
		{"dea.*.start", "dea.1.stop", false},
		{"", "foo", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, subjectMatches(tc.subject, tc.pattern), "subjectMatches(%q, %q)", tc.subject, tc.pattern)
	}
}

func TestValidSubject(t *testing.T) {
	assert.True(t, validSubject("foo.bar", false))
	assert.True(t, validSubject("foo.*", true))
	assert.True(t, validSubject("foo.>", true))
	assert.False(t, validSubject("foo.*", false))
	assert.False(t, validSubject("foo.>.bar", true))
	assert.False(t, validSubject("foo..bar", true))
	assert.False(t, validSubject("", true))
}
