package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"normal text unchanged", "Ship the onboarding flow", "Ship the onboarding flow"},
		{"unicode tags removed", "hello\U000E0001\U000E0049world", "helloworld"},
		{"bidi override removed", "safe\u202Eevil\u202Ctext", "safeeviltext"},
		{"bidi isolates removed", "a\u2066b\u2067c\u2068d\u2069e", "abcde"},
		{"zero width removed", "no\u200Bspace\u200Dhere\uFEFF", "nospacehere"},
		{"variation selectors removed", "star\uFE0F", "star"},
		{"control characters removed", "bell\x07 and\x1b[31m escape", "bell and[31m escape"},
		{"newlines and tabs kept", "line one\n\tline two", "line one\n\tline two"},
		{"surrounding whitespace trimmed", "  padded \n", "padded"},
		{"emoji kept", "launch \U0001F680", "launch \U0001F680"},
		{"non-latin kept", "\u05EA\u05DB\u05E0\u05D5\u05DF", "\u05EA\u05DB\u05E0\u05D5\u05DF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanText(tt.input))
		})
	}
}

func TestCleanLine(t *testing.T) {
	assert.Equal(t, "Fix login bug", CleanLine("  Fix\nlogin\t\tbug\u200B "))
	assert.Equal(t, "", CleanLine("\u202E\u200B"))
}

func TestSuspicious(t *testing.T) {
	assert.False(t, Suspicious("plain title\nwith newline"))
	assert.True(t, Suspicious("hidden\u200Bspace"))
	assert.True(t, Suspicious("rtl\u202Eoverride"))
	assert.True(t, Suspicious("nul\x00byte"))
}
