package startest

import (
	"fmt"
	"strings"
)

// Reindent strips the leading indentation of a multi-line string's
// first non-blank line from every line, preserving relative indents, so
// test code can be written indented within a Go source file.
func Reindent(in string) (string, error) {
	in = strings.ReplaceAll(in, "\r\n", "\n")
	in = strings.ReplaceAll(in, "\r", "\n")
	lines := strings.Split(in, "\n")
	if len(lines) <= 1 {
		return in, nil
	}

	// The margin is the indentation of the first non-blank line.
	margin := ""
	found := false
	for _, line := range lines {
		body := strings.TrimLeft(line, " \t")
		if body == "" {
			continue
		}
		margin = line[:len(line)-len(body)]
		found = true
		break
	}
	if !found || margin == "" {
		// Already flush left; drop a leading blank line for neatness.
		if lines[0] == "" {
			lines = lines[1:]
		}
		return strings.Join(lines, "\n"), nil
	}

	out := strings.Builder{}
	out.Grow(len(in))
	for i, line := range lines {
		if strings.TrimLeft(line, " \t") == "" {
			if i != 0 {
				out.WriteByte('\n')
			}
			continue
		}
		body := strings.TrimPrefix(line, margin)
		if len(body) == len(line) {
			return "", fmt.Errorf("invalid indentation on line %d: expected line starting %#v but got %#v", i+1, margin, line)
		}
		out.WriteString(body)
		out.WriteByte('\n')
	}
	return out.String(), nil
}
