package startest_test

import (
	"testing"

	"github.com/stratumlang/starlark/startest"
)

func TestReindent(t *testing.T) {
	tests := []struct{ src, want string }{
		{"", ""},
		{"a", "a"},
		{"\t  a", "\t  a"},
		{"a\nb", "a\nb"},
		{"\ta\n\tb", "a\nb\n"},
		{"    a\n    b", "a\nb\n"},
		{"a\n\tb\nc", "a\n\tb\nc"},
		{"\ta\n\t\tb\n\tc", "a\n\tb\nc\n"},
		{"  a\n    b\n  c", "a\n  b\nc\n"},
		{"\n\t\ta\n\t\tb", "a\nb\n"},
		{"\r\n\ta\r\n\tb", "a\nb\n"},
	}
	for _, test := range tests {
		got, err := startest.Reindent(test.src)
		if err != nil {
			t.Errorf("%#v: unexpected error: %v", test.src, err)
			continue
		}
		if got != test.want {
			t.Errorf("%#v: got %#v, want %#v", test.src, got, test.want)
		}
	}
}

func TestReindentMismatch(t *testing.T) {
	if _, err := startest.Reindent("\ta\nb"); err == nil {
		t.Error("under-indented line unexpectedly accepted")
	}
}
