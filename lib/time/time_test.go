package time_test

import (
	"strings"
	"testing"
	gotime "time"

	startime "github.com/stratumlang/starlark/lib/time"
	"github.com/stratumlang/starlark/starlark"
)

func eval(t *testing.T, src string) (starlark.Value, error) {
	t.Helper()
	thread := &starlark.Thread{}
	return starlark.Eval(thread, "<expr>", src, starlark.StringDict{"time": startime.Module})
}

func evalOK(t *testing.T, src string) string {
	t.Helper()
	v, err := eval(t, src)
	if err != nil {
		t.Fatalf("eval %s: %v", src, err)
	}
	return v.String()
}

func TestParseDuration(t *testing.T) {
	tests := []struct{ src, want string }{
		{`time.parse_duration("10s").seconds`, `10`},
		{`time.parse_duration("90m").hours`, `1`},
		{`time.parse_duration("1h30m").minutes`, `90`},
		{`time.parse_duration("2ms").microseconds`, `2000`},
		{`time.parse_duration("10s") + time.parse_duration("5s")`, `15s`},
		{`time.parse_duration("10s") - time.parse_duration("4s")`, `6s`},
		{`time.parse_duration("10s") * 3`, `30s`},
		{`time.parse_duration("10s") // time.parse_duration("3s")`, `3`},
		{`time.parse_duration("10s") // 2`, `5s`},
		{`time.parse_duration("1s") < time.parse_duration("2s")`, `True`},
	}
	for _, test := range tests {
		if got := evalOK(t, test.src); got != test.want {
			t.Errorf("%s = %s, want %s", test.src, got, test.want)
		}
	}

	if _, err := eval(t, `time.parse_duration("bogus")`); err == nil {
		t.Error("parse_duration of garbage unexpectedly succeeded")
	}
}

func TestFromTimestamp(t *testing.T) {
	tests := []struct{ src, want string }{
		{`time.from_timestamp(0).year`, `1970`},
		{`time.from_timestamp(86400).day`, `2`},
		{`time.from_timestamp(0).unix`, `0`},
	}
	for _, test := range tests {
		if got := evalOK(t, test.src); got != test.want {
			t.Errorf("%s = %s, want %s", test.src, got, test.want)
		}
	}
}

func TestParseTime(t *testing.T) {
	got := evalOK(t, `time.parse_time("2021-03-22T23:20:50Z").year`)
	if got != "2021" {
		t.Errorf("year = %s, want 2021", got)
	}
	got = evalOK(t, `time.parse_time("2021-03-22T23:20:50Z") - time.parse_time("2021-03-22T23:20:40Z")`)
	if got != "10s" {
		t.Errorf("difference = %s, want 10s", got)
	}
}

func TestTimeComponents(t *testing.T) {
	got := evalOK(t, `time.time(year=2000, month=2, day=29, hour=12).month`)
	if got != "2" {
		t.Errorf("month = %s, want 2", got)
	}
}

func TestIsValidTimezone(t *testing.T) {
	if got := evalOK(t, `time.is_valid_timezone("UTC")`); got != "True" {
		t.Errorf("UTC valid = %s", got)
	}
	if got := evalOK(t, `time.is_valid_timezone("Neither/Nowhere")`); got != "False" {
		t.Errorf("bogus zone valid = %s", got)
	}
}

// now() relies on the wall clock, so a thread that demands TimeSafe
// execution must reject it; an unrestricted thread may call it.
func TestNowSafety(t *testing.T) {
	env := starlark.StringDict{"time": startime.Module}

	hermetic := &starlark.Thread{}
	hermetic.RequireSafety(starlark.TimeSafe)
	if _, err := starlark.Eval(hermetic, "<expr>", `time.now()`, env); err == nil {
		t.Error("now() ran on a TimeSafe thread")
	}

	fixed := gotime.Date(2020, 1, 2, 3, 4, 5, 0, gotime.UTC)
	oldNow := startime.NowFunc
	startime.NowFunc = func() gotime.Time { return fixed }
	defer func() { startime.NowFunc = oldNow }()

	relaxed := &starlark.Thread{}
	v, err := starlark.Eval(relaxed, "<expr>", `time.now().year`, env)
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "2020" {
		t.Errorf("now().year = %s, want 2020", v)
	}
}

func TestDurationErrors(t *testing.T) {
	tests := []struct{ src, want string }{
		{`time.parse_duration("1s") // 0`, "division by zero"},
		{`time.parse_duration("1s") + 1`, ""},
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
