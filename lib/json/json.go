// Copyright 2020 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package json defines utilities for converting Starlark values to and
// from JSON strings, per https://www.ietf.org/rfc/rfc7159.txt.
package json // import "github.com/stratumlang/starlark/lib/json"

import (
	"bytes"
	gojson "encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/stratumlang/starlark/starlark"
	"github.com/stratumlang/starlark/starlarkstruct"
)

// Module json is a Starlark module of JSON-related functions.
//
//	json = module(
//	   encode,
//	   decode,
//	   indent,
//	)
//
// def encode(x):
//
// The encode function converts its argument to JSON by cases:
//   - A value that implements Go's standard json.Marshaler interface
//     defines its own encoding.
//   - None, True, and False become null, true, and false.
//   - An int, no matter how large, is encoded as a decimal integer.
//     Some decoders can't handle very large integers.
//   - A string is encoded as a JSON string, using UTF-16 escapes for
//     characters outside the printable ASCII range.
//   - An IterableMapping (e.g. dict) is encoded as a JSON object; it
//     is an error if any key is not a string.
//   - Any other Iterable (e.g. list, tuple) becomes a JSON array.
//   - A HasAttrs value (e.g. struct) is encoded as a JSON object.
//
// The language has no floating-point type, so no value encodes to a
// JSON number with a fraction or exponent. Encoding any unlisted value
// yields an error.
//
// def decode(x):
//
// The decode function parses its argument as JSON:
//   - null, true, and false become None, True, and False.
//   - Numbers are parsed as int; a number with a decimal point or
//     exponent is rejected, as the language has no float type.
//   - Strings, objects, and arrays become strings, new unfrozen dicts,
//     and new unfrozen lists.
//
// def indent(s, prefix="", indent="\t"):
//
// The indent function returns the multi-line form of a valid JSON
// string.
var Module = &starlarkstruct.Module{
	Name: "json",
	Members: starlark.StringDict{
		"encode": starlark.NewBuiltin("json.encode", encode),
		"decode": starlark.NewBuiltin("json.decode", decode),
		"indent": starlark.NewBuiltin("json.indent", indent),
	},
}

func encode(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	buf := starlark.NewSafeStringBuilder(thread)
	if err := encodeValue(thread, buf, x); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := buf.Err(); err != nil {
		return nil, err
	}
	return starlark.String(buf.String()), nil
}

func encodeValue(thread *starlark.Thread, buf starlark.StringBuilder, x starlark.Value) error {
	switch x := x.(type) {
	case gojson.Marshaler:
		// Application-defined types may carry their own encoding.
		data, err := x.MarshalJSON()
		if err != nil {
			return err
		}
		_, err = buf.Write(data)
		return err

	case starlark.NoneType:
		_, err := buf.WriteString("null")
		return err

	case starlark.Bool:
		s := "false"
		if x {
			s = "true"
		}
		_, err := buf.WriteString(s)
		return err

	case starlark.Int:
		_, err := buf.WriteString(x.String())
		return err

	case starlark.String:
		return encodeString(buf, string(x))

	case starlark.IterableMapping:
		// e.g. dict: object with string keys, in insertion order.
		if err := buf.WriteByte('{'); err != nil {
			return err
		}
		for i, item := range x.Items() {
			if i > 0 {
				if err := buf.WriteByte(','); err != nil {
					return err
				}
			}
			key, ok := starlark.AsString(item[0])
			if !ok {
				return fmt.Errorf("%s has %s key, want string", x.Type(), item[0].Type())
			}
			if err := encodeString(buf, key); err != nil {
				return err
			}
			if err := buf.WriteByte(':'); err != nil {
				return err
			}
			if err := encodeValue(thread, buf, item[1]); err != nil {
				return err
			}
		}
		return buf.WriteByte('}')

	case starlark.Iterable:
		// e.g. list, tuple: array.
		if err := buf.WriteByte('['); err != nil {
			return err
		}
		iter, err := starlark.SafeIterate(thread, x)
		if err != nil {
			return err
		}
		defer iter.Done()
		var elem starlark.Value
		for i := 0; iter.Next(&elem); i++ {
			if i > 0 {
				if err := buf.WriteByte(','); err != nil {
					return err
				}
			}
			if err := encodeValue(thread, buf, elem); err != nil {
				return err
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		return buf.WriteByte(']')

	case starlark.HasAttrs:
		// e.g. struct: object of attribute name/value pairs.
		if err := buf.WriteByte('{'); err != nil {
			return err
		}
		sep := false
		for _, name := range x.AttrNames() {
			v, err := getAttrValue(thread, x, name)
			if err != nil {
				return err
			}
			if v == nil {
				continue // listed but absent; skip
			}
			if sep {
				if err := buf.WriteByte(','); err != nil {
					return err
				}
			}
			sep = true
			if err := encodeString(buf, name); err != nil {
				return err
			}
			if err := buf.WriteByte(':'); err != nil {
				return err
			}
			if err := encodeValue(thread, buf, v); err != nil {
				return err
			}
		}
		return buf.WriteByte('}')
	}
	return fmt.Errorf("cannot encode %s as JSON", x.Type())
}

func getAttrValue(thread *starlark.Thread, x starlark.HasAttrs, name string) (starlark.Value, error) {
	if x, ok := x.(starlark.HasSafeAttrs); ok {
		v, err := x.SafeAttr(thread, name)
		if err == starlark.ErrNoSuchAttr {
			return nil, nil
		}
		return v, err
	}
	return x.Attr(name)
}

// encodeString writes s as a JSON string: printable ASCII passes
// through, everything else is escaped with the \uXXXX form (a
// surrogate pair for supplementary characters).
func encodeString(buf starlark.StringBuilder, s string) error {
	if err := buf.WriteByte('"'); err != nil {
		return err
	}
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			if err := buf.WriteByte('\\'); err != nil {
				return err
			}
			if err := buf.WriteByte(byte(r)); err != nil {
				return err
			}
		case r >= 0x20 && r < utf8.RuneSelf:
			if err := buf.WriteByte(byte(r)); err != nil {
				return err
			}
		case r <= 0xFFFF:
			if _, err := fmt.Fprintf(buf, `\u%04x`, r); err != nil {
				return err
			}
		default:
			r1, r2 := utf16.EncodeRune(r)
			if _, err := fmt.Fprintf(buf, `\u%04x\u%04x`, r1, r2); err != nil {
				return err
			}
		}
	}
	return buf.WriteByte('"')
}

// A decoder holds the state of one decode call. Parse errors abort via
// panic(decodeError) and are recovered at the entry point, so the
// grammar productions need no error plumbing.
type decoder struct {
	thread *starlark.Thread
	s      string
	i      int
}

type decodeError string

func (d *decoder) failf(format string, args ...interface{}) {
	panic(decodeError(fmt.Sprintf(format, args...)))
}

func decode(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (v starlark.Value, err error) {
	var s string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(decodeError); ok {
				v, err = nil, fmt.Errorf("%s: %s", b.Name(), string(msg))
				return
			}
			panic(r)
		}
	}()
	d := &decoder{thread: thread, s: s}
	result := d.value()
	d.skipSpace()
	if d.i < len(d.s) {
		d.failf("unexpected character %q after value", d.s[d.i])
	}
	return result, nil
}

func (d *decoder) skipSpace() {
	for d.i < len(d.s) {
		switch d.s[d.i] {
		case ' ', '\t', '\n', '\r':
			d.i++
		default:
			return
		}
	}
}

func (d *decoder) peek() byte {
	d.skipSpace()
	if d.i >= len(d.s) {
		d.failf("unexpected end of file")
	}
	return d.s[d.i]
}

// literal consumes the given keyword if present.
func (d *decoder) literal(word string) bool {
	if strings.HasPrefix(d.s[d.i:], word) {
		d.i += len(word)
		return true
	}
	return false
}

func (d *decoder) value() starlark.Value {
	if d.thread != nil {
		if err := d.thread.AddExecutionSteps(1); err != nil {
			d.failf("%v", err)
		}
	}
	switch b := d.peek(); {
	case b == 'n' && d.literal("null"):
		return starlark.None
	case b == 't' && d.literal("true"):
		return starlark.True
	case b == 'f' && d.literal("false"):
		return starlark.False
	case b == '"':
		return starlark.String(d.string())
	case b == '[':
		return d.array()
	case b == '{':
		return d.object()
	case b == '-' || (b >= '0' && b <= '9'):
		return d.number()
	default:
		d.failf("unexpected character %q", b)
	}
	panic("unreachable")
}

func (d *decoder) array() starlark.Value {
	d.i++ // '['
	list := starlark.NewList(nil)
	if d.peek() == ']' {
		d.i++
		return list
	}
	for {
		elem := d.value()
		if err := list.Append(elem); err != nil {
			d.failf("%v", err)
		}
		switch d.peek() {
		case ',':
			d.i++
		case ']':
			d.i++
			return list
		default:
			d.failf("got %q, want ',' or ']'", d.s[d.i])
		}
	}
}

func (d *decoder) object() starlark.Value {
	d.i++ // '{'
	dict := starlark.NewDict(0)
	if d.peek() == '}' {
		d.i++
		return dict
	}
	for {
		if d.peek() != '"' {
			d.failf("got %q for object key, want string", d.s[d.i])
		}
		key := d.string()
		if d.peek() != ':' {
			d.failf("after object key, got %q, want ':'", d.s[d.i])
		}
		d.i++
		value := d.value()
		if err := dict.SafeSetKey(d.thread, starlark.String(key), value); err != nil {
			d.failf("%v", err)
		}
		switch d.peek() {
		case ',':
			d.i++
		case '}':
			d.i++
			return dict
		default:
			d.failf("in object, got %q, want ',' or '}'", d.s[d.i])
		}
	}
}

func (d *decoder) string() string {
	d.i++ // '"'
	var out strings.Builder
	for d.i < len(d.s) {
		switch b := d.s[d.i]; {
		case b == '"':
			d.i++
			return out.String()
		case b == '\\':
			d.i++
			if d.i >= len(d.s) {
				break
			}
			switch e := d.s[d.i]; e {
			case '"', '\\', '/':
				out.WriteByte(e)
				d.i++
			case 'b':
				out.WriteByte('\b')
				d.i++
			case 'f':
				out.WriteByte('\f')
				d.i++
			case 'n':
				out.WriteByte('\n')
				d.i++
			case 'r':
				out.WriteByte('\r')
				d.i++
			case 't':
				out.WriteByte('\t')
				d.i++
			case 'u':
				out.WriteRune(d.unicodeEscape())
			default:
				d.failf(`invalid escape \%c`, e)
			}
		case b < 0x20:
			d.failf("invalid control character in string literal")
		default:
			out.WriteByte(b)
			d.i++
		}
	}
	d.failf("unclosed string literal")
	panic("unreachable")
}

// unicodeEscape decodes one \uXXXX escape, combining a high surrogate
// with a following \uXXXX low surrogate when present.
func (d *decoder) unicodeEscape() rune {
	r1 := d.hex4()
	if utf16.IsSurrogate(rune(r1)) && strings.HasPrefix(d.s[d.i:], `\u`) {
		d.i += 2
		r2 := d.hex4()
		if r := utf16.DecodeRune(rune(r1), rune(r2)); r != utf8.RuneError {
			return r
		}
		d.failf("invalid surrogate pair")
	}
	return rune(r1)
}

func (d *decoder) hex4() uint32 {
	d.i++ // 'u'
	if d.i+4 > len(d.s) {
		d.failf("incomplete \\u escape")
	}
	n, err := strconv.ParseUint(d.s[d.i:d.i+4], 16, 32)
	if err != nil {
		d.failf("invalid \\u escape: %v", err)
	}
	d.i += 4
	return uint32(n)
}

func (d *decoder) number() starlark.Value {
	start := d.i
	if d.s[d.i] == '-' {
		d.i++
	}
	integral := true
	for d.i < len(d.s) {
		switch b := d.s[d.i]; {
		case b >= '0' && b <= '9':
			d.i++
		case b == '.' || b == 'e' || b == 'E' || b == '+' || b == '-':
			integral = false
			d.i++
		default:
			goto done
		}
	}
done:
	num := d.s[start:d.i]
	if !integral {
		// The language has no floating-point type.
		d.failf("floating-point numbers are not supported: %s", num)
	}
	digits := strings.TrimPrefix(num, "-")
	if digits == "" || (digits[0] == '0' && len(digits) > 1) {
		d.failf("invalid number: %s", num)
	}
	x, ok := new(big.Int).SetString(num, 10)
	if !ok {
		d.failf("invalid number: %s", num)
	}
	return starlark.MakeBigInt(x)
}

func indent(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	prefix, indent := "", "\t"
	var s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"str", &s,
		"prefix?", &prefix,
		"indent?", &indent,
	); err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := gojson.Indent(buf, []byte(s), prefix, indent); err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	if thread != nil {
		size := starlark.EstimateMakeSize([]byte{}, buf.Len()) + starlark.StringTypeOverhead
		if err := thread.AddAllocs(size); err != nil {
			return nil, err
		}
	}
	return starlark.String(buf.String()), nil
}
