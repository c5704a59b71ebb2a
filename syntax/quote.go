// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package syntax

// Rendering a string as a double-quoted source literal. The scanner
// (decodeEscape in scan.go) reads back the \n, \t, \r, \\ and \"
// escapes written here; it does not decode the \xNN escapes used for
// other control characters and invalid UTF-8 bytes.

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"
)

// A BytesWriter accepts the byte-, rune-, and string-level writes the
// quoting routine emits; both bytes.Buffer and the evaluator's metered
// string builder satisfy it.
type BytesWriter interface {
	io.Writer
	io.ByteWriter
	io.StringWriter

	WriteRune(r rune) (size int, err error)
}

// Quote returns a double-quoted literal denoting s.
func Quote(s string) string {
	buf := new(bytes.Buffer)
	buf.Grow(len(s) + 2)
	QuoteWriter(buf, s)
	return buf.String()
}

// QuoteWriter writes a double-quoted literal denoting s to w.
func QuoteWriter(w BytesWriter, s string) error {
	if err := w.WriteByte('"'); err != nil {
		return err
	}
	for i := 0; i < len(s); {
		b := s[i]
		switch {
		case b == '"' || b == '\\':
			if err := w.WriteByte('\\'); err != nil {
				return err
			}
			if err := w.WriteByte(b); err != nil {
				return err
			}
			i++
		case b == '\n':
			if _, err := w.WriteString(`\n`); err != nil {
				return err
			}
			i++
		case b == '\t':
			if _, err := w.WriteString(`\t`); err != nil {
				return err
			}
			i++
		case b == '\r':
			if _, err := w.WriteString(`\r`); err != nil {
				return err
			}
			i++
		case b < utf8.RuneSelf:
			if b < 0x20 || b == 0x7f {
				if _, err := fmt.Fprintf(w, `\x%02x`, b); err != nil {
					return err
				}
			} else if err := w.WriteByte(b); err != nil {
				return err
			}
			i++
		default:
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				// Invalid UTF-8: escape the raw byte.
				if _, err := fmt.Fprintf(w, `\x%02x`, s[i]); err != nil {
					return err
				}
			} else if _, err := w.WriteRune(r); err != nil {
				return err
			}
			i += size
		}
	}
	return w.WriteByte('"')
}
