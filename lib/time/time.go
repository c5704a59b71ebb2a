// Copyright 2021 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package time provides time-related constants and functions. Apart
// from now(), everything here is a pure function of its inputs, so the
// module is safe to expose to hermetic evaluations.
package time // import "github.com/stratumlang/starlark/lib/time"

import (
	"fmt"
	"time"

	"github.com/stratumlang/starlark/starlark"
	"github.com/stratumlang/starlark/starlarkstruct"
	"github.com/stratumlang/starlark/syntax"
)

// Module time is a Starlark module of time-related functions and
// constants.
//
//	from_timestamp(sec, nsec=0) - The Time at the given Unix time.
//	is_valid_timezone(loc) - Reports whether loc names a time zone.
//	now() - The current local time; see NowFunc.
//	parse_duration(d) - Parses a duration string such as "1h30m".
//	parse_time(x, format=RFC3339, location="UTC") - Parses a time string.
//	time(year, month, day, hour, minute, second, nanosecond, location)
//	    - The Time with the given components.
//
// The module also defines the constants nanosecond, microsecond,
// millisecond, second, minute, and hour, each a Duration.
var Module = &starlarkstruct.Module{
	Name: "time",
	Members: starlark.StringDict{
		"from_timestamp":    starlark.NewBuiltin("time.from_timestamp", fromTimestamp),
		"is_valid_timezone": starlark.NewBuiltin("time.is_valid_timezone", isValidTimezone),
		"now":               starlark.NewBuiltin("time.now", now),
		"parse_duration":    starlark.NewBuiltin("time.parse_duration", parseDuration),
		"parse_time":        starlark.NewBuiltin("time.parse_time", parseTime),
		"time":              starlark.NewBuiltin("time.time", newTime),

		"nanosecond":  Duration(time.Nanosecond),
		"microsecond": Duration(time.Microsecond),
		"millisecond": Duration(time.Millisecond),
		"second":      Duration(time.Second),
		"minute":      Duration(time.Minute),
		"hour":        Duration(time.Hour),
	},
}

// NowFunc is the function the now() builtin calls. It is exported so
// applications that need determinism can substitute a fixed clock.
var NowFunc = time.Now

// NowFuncSafety is the safety now() declares. It deliberately omits
// TimeSafe: a thread that requires hermetic time refuses the wall
// clock unless the application overrides NowFunc and re-declares.
var NowFuncSafety = starlark.CPUSafe | starlark.MemSafe | starlark.IOSafe

func now(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if err := thread.CheckPermits(NowFuncSafety); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := thread.AddAllocs(starlark.EstimateSize(Time{})); err != nil {
		return nil, err
	}
	return Time(NowFunc()), nil
}

func fromTimestamp(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var sec int64
	var nsec int64
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &sec, &nsec); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(starlark.EstimateSize(Time{})); err != nil {
		return nil, err
	}
	return Time(time.Unix(sec, nsec).UTC()), nil
}

func isValidTimezone(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var loc string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &loc); err != nil {
		return nil, err
	}
	_, err := time.LoadLocation(loc)
	return starlark.Bool(err == nil), nil
}

func parseDuration(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var d Duration
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &d); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(starlark.EstimateSize(d)); err != nil {
		return nil, err
	}
	return d, nil
}

func parseTime(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x string
	format := time.RFC3339
	location := "UTC"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"x", &x,
		"format?", &format,
		"location?", &location,
	); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(starlark.EstimateSize(Time{})); err != nil {
		return nil, err
	}
	if location == "UTC" {
		t, err := time.Parse(format, x)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", b.Name(), err)
		}
		return Time(t), nil
	}
	loc, err := time.LoadLocation(location)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	t, err := time.ParseInLocation(format, x, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	return Time(t), nil
}

func newTime(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		year, month, day, hour, minute, second, nanosecond int
		location                                           string
	)
	month = 1
	day = 1
	location = "UTC"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"year?", &year,
		"month?", &month,
		"day?", &day,
		"hour?", &hour,
		"minute?", &minute,
		"second?", &second,
		"nanosecond?", &nanosecond,
		"location?", &location,
	); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(location)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	if err := thread.AddAllocs(starlark.EstimateSize(Time{})); err != nil {
		return nil, err
	}
	return Time(time.Date(year, time.Month(month), day, hour, minute, second, nanosecond, loc)), nil
}

// A Duration is a Starlark representation of Go's time.Duration: a
// signed nanosecond count.
type Duration time.Duration

var (
	_ starlark.HasSafeAttrs   = Duration(0)
	_ starlark.HasBinary      = Duration(0)
	_ starlark.TotallyOrdered = Duration(0)
	_ starlark.Unpacker       = (*Duration)(nil)
)

// Unpack accepts either a Duration value or a duration string such as
// "90m" or "1h30m".
func (d *Duration) Unpack(v starlark.Value) error {
	switch v := v.(type) {
	case Duration:
		*d = v
		return nil
	case starlark.String:
		parsed, err := time.ParseDuration(string(v))
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	return fmt.Errorf("got %s, want a duration or duration string", v.Type())
}

func (d Duration) String() string        { return time.Duration(d).String() }
func (d Duration) Type() string          { return "time.duration" }
func (d Duration) Freeze()               {} // immutable
func (d Duration) Truth() starlark.Bool  { return d != 0 }
func (d Duration) Hash() (uint32, error) {
	v := int64(d)
	return uint32(v) ^ uint32(v>>32), nil
}

// Cmp orders two Durations by magnitude.
func (d Duration) Cmp(v starlark.Value, depth int) (int, error) {
	y := v.(Duration)
	switch {
	case d < y:
		return -1, nil
	case d > y:
		return 1, nil
	default:
		return 0, nil
	}
}

var durationAttrNames = []string{
	"hours", "microseconds", "milliseconds", "minutes", "nanoseconds", "seconds",
}

func (d Duration) AttrNames() []string { return durationAttrNames }

func (d Duration) Attr(name string) (starlark.Value, error) {
	return d.SafeAttr(nil, name)
}

// SafeAttr exposes the duration's components, truncated to whole
// units, since the language has only integers.
func (d Duration) SafeAttr(thread *starlark.Thread, name string) (starlark.Value, error) {
	if err := starlark.CheckSafety(thread, starlark.CPUSafe|starlark.MemSafe|starlark.IOSafe); err != nil {
		return nil, err
	}
	var result starlark.Value
	switch name {
	case "hours":
		result = starlark.MakeInt64(int64(time.Duration(d) / time.Hour))
	case "minutes":
		result = starlark.MakeInt64(int64(time.Duration(d) / time.Minute))
	case "seconds":
		result = starlark.MakeInt64(int64(time.Duration(d) / time.Second))
	case "milliseconds":
		result = starlark.MakeInt64(time.Duration(d).Milliseconds())
	case "microseconds":
		result = starlark.MakeInt64(time.Duration(d).Microseconds())
	case "nanoseconds":
		result = starlark.MakeInt64(time.Duration(d).Nanoseconds())
	default:
		return nil, starlark.ErrNoSuchAttr
	}
	if thread != nil {
		if err := thread.AddAllocs(starlark.EstimateSize(result)); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Binary implements the duration operators:
//
//	duration + duration = duration
//	duration + time = time
//	duration - duration = duration
//	duration // duration = int
//	duration // int = duration
//	duration * int = duration
func (d Duration) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	x := time.Duration(d)

	switch op {
	case syntax.PLUS:
		switch y := y.(type) {
		case Duration:
			return Duration(x + time.Duration(y)), nil
		case Time:
			return Time(time.Time(y).Add(x)), nil
		}

	case syntax.MINUS:
		if side == starlark.Left {
			if y, ok := y.(Duration); ok {
				return Duration(x - time.Duration(y)), nil
			}
		}

	case syntax.SLASHSLASH:
		if side == starlark.Left {
			switch y := y.(type) {
			case Duration:
				if y == 0 {
					return nil, fmt.Errorf("%s division by zero", d.Type())
				}
				return starlark.MakeInt64(int64(x / time.Duration(y))), nil
			case starlark.Int:
				i, ok := y.Int64()
				if !ok {
					return nil, fmt.Errorf("int value out of range (want signed 64-bit value)")
				}
				if i == 0 {
					return nil, fmt.Errorf("%s division by zero", d.Type())
				}
				return Duration(x / time.Duration(i)), nil
			}
		}

	case syntax.STAR:
		if y, ok := y.(starlark.Int); ok {
			i, ok := y.Int64()
			if !ok {
				return nil, fmt.Errorf("int value out of range (want signed 64-bit value)")
			}
			return Duration(x * time.Duration(i)), nil
		}
	}
	return nil, nil // unhandled
}

// A Time is a Starlark representation of an instant, with a location.
type Time time.Time

var (
	_ starlark.HasSafeAttrs   = Time{}
	_ starlark.HasBinary      = Time{}
	_ starlark.TotallyOrdered = Time{}
)

func (t Time) String() string       { return time.Time(t).String() }
func (t Time) Type() string         { return "time.time" }
func (t Time) Freeze()              {} // immutable
func (t Time) Truth() starlark.Bool { return starlark.Bool(!time.Time(t).IsZero()) }
func (t Time) Hash() (uint32, error) {
	v := time.Time(t).UnixNano()
	return uint32(v) ^ uint32(v>>32), nil
}

// Cmp orders two Times chronologically.
func (t Time) Cmp(v starlark.Value, depth int) (int, error) {
	y := v.(Time)
	return time.Time(t).Compare(time.Time(y)), nil
}

var timeAttrNames = []string{
	"day", "hour", "minute", "month", "nanosecond", "second", "unix", "unix_nano", "year",
}

func (t Time) AttrNames() []string { return timeAttrNames }

func (t Time) Attr(name string) (starlark.Value, error) {
	return t.SafeAttr(nil, name)
}

func (t Time) SafeAttr(thread *starlark.Thread, name string) (starlark.Value, error) {
	if err := starlark.CheckSafety(thread, starlark.CPUSafe|starlark.MemSafe|starlark.IOSafe); err != nil {
		return nil, err
	}
	var result starlark.Value
	switch name {
	case "year":
		result = starlark.MakeInt(time.Time(t).Year())
	case "month":
		result = starlark.MakeInt(int(time.Time(t).Month()))
	case "day":
		result = starlark.MakeInt(time.Time(t).Day())
	case "hour":
		result = starlark.MakeInt(time.Time(t).Hour())
	case "minute":
		result = starlark.MakeInt(time.Time(t).Minute())
	case "second":
		result = starlark.MakeInt(time.Time(t).Second())
	case "nanosecond":
		result = starlark.MakeInt(time.Time(t).Nanosecond())
	case "unix":
		result = starlark.MakeInt64(time.Time(t).Unix())
	case "unix_nano":
		result = starlark.MakeInt64(time.Time(t).UnixNano())
	default:
		return nil, starlark.ErrNoSuchAttr
	}
	if thread != nil {
		if err := thread.AddAllocs(starlark.EstimateSize(result)); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Binary implements the time operators:
//
//	time + duration = time
//	time - duration = time
//	time - time = duration
func (t Time) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	x := time.Time(t)

	switch op {
	case syntax.PLUS:
		if y, ok := y.(Duration); ok {
			return Time(x.Add(time.Duration(y))), nil
		}

	case syntax.MINUS:
		if side == starlark.Left {
			switch y := y.(type) {
			case Duration:
				return Time(x.Add(-time.Duration(y))), nil
			case Time:
				return Duration(x.Sub(time.Time(y))), nil
			}
		}
	}
	return nil, nil // unhandled
}
