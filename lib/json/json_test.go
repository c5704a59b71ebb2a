package json_test

import (
	"strings"
	"testing"

	"github.com/stratumlang/starlark/lib/json"
	"github.com/stratumlang/starlark/starlark"
)

func eval(t *testing.T, src string) (starlark.Value, error) {
	t.Helper()
	thread := &starlark.Thread{}
	return starlark.Eval(thread, "<expr>", src, starlark.StringDict{"json": json.Module})
}

func evalOK(t *testing.T, src string) string {
	t.Helper()
	v, err := eval(t, src)
	if err != nil {
		t.Fatalf("eval %s: %v", src, err)
	}
	return v.String()
}

func TestEncode(t *testing.T) {
	tests := []struct{ src, want string }{
		{`json.encode(None)`, `"null"`},
		{`json.encode(True)`, `"true"`},
		{`json.encode(12345)`, `"12345"`},
		{`json.encode("hello")`, `"\"hello\""`},
		{`json.encode([1, 2, 3])`, `"[1,2,3]"`},
		{`json.encode((1, 2))`, `"[1,2]"`},
		{`json.encode({"a": 1, "b": [True, None]})`, `"{\"a\":1,\"b\":[true,null]}"`},
		{`json.encode({"k": "v"})`, `"{\"k\":\"v\"}"`},
	}
	for _, test := range tests {
		if got := evalOK(t, test.src); got != test.want {
			t.Errorf("%s = %s, want %s", test.src, got, test.want)
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []string{
		`json.encode({1: "nonstring key"})`,
		`json.encode(len)`,
	}
	for _, src := range tests {
		if _, err := eval(t, src); err == nil {
			t.Errorf("%s: unexpected success", src)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct{ src, want string }{
		{`json.decode("null")`, `None`},
		{`json.decode("true")`, `True`},
		{`json.decode("[1, 2, 3]")`, `[1, 2, 3]`},
		{`json.decode('"hi"')`, `"hi"`},
		{`json.decode('{"a": 1}')`, `{"a": 1}`},
		{`json.decode('{"nested": [{"k": null}]}')`, `{"nested": [{"k": None}]}`},
		{`json.decode("123456789012345678901234567890")`, `123456789012345678901234567890`},
	}
	for _, test := range tests {
		if got := evalOK(t, test.src); got != test.want {
			t.Errorf("%s = %s, want %s", test.src, got, test.want)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct{ src, want string }{
		{`json.decode("")`, "unexpected end"},
		{`json.decode("[1,")`, ""},
		{`json.decode("nope")`, ""},
		{`json.decode("1.5")`, "floating-point"},
		{`json.decode("1e9")`, "floating-point"},
	}
	for _, test := range tests {
		_, err := eval(t, test.src)
		if err == nil {
			t.Errorf("%s: unexpected success", test.src)
			continue
		}
		if test.want != "" && !strings.Contains(err.Error(), test.want) {
			t.Errorf("%s: error %q does not contain %q", test.src, err, test.want)
		}
	}
}

func TestIndent(t *testing.T) {
	got := evalOK(t, `json.indent('{"a":[1,2]}', indent="  ")`)
	if !strings.Contains(got, `\n`) {
		t.Errorf("indent produced no newlines: %s", got)
	}
}

func TestRoundTrip(t *testing.T) {
	got := evalOK(t, `json.decode(json.encode({"a": [1, "x", None, True]}))`)
	want := `{"a": [1, "x", None, True]}`
	if got != want {
		t.Errorf("round trip = %s, want %s", got, want)
	}
}
