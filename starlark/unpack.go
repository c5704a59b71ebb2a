package starlark

import (
	"fmt"
	"reflect"
	"strings"
)

// An Unpacker defines custom argument-unpacking behavior, letting a
// caller-supplied type own its own conversion from a Value instead of
// falling through unpackOneArg's generic reflection path.
type Unpacker interface {
	Unpack(v Value) error
}

// intset is a fixed-size bitset recording which parameter slots of the
// pairs list have been filled, so UnpackArgs can detect duplicate and
// missing arguments.
type intset struct{ bits []uint32 }

func (is *intset) init(n int) { is.bits = make([]uint32, (n+31)/32) }

func (is *intset) set(i int) (prior bool) {
	prior = is.bits[i/32]&(1<<uint(i%32)) != 0
	is.bits[i/32] |= 1 << uint(i%32)
	return prior
}

func (is *intset) get(i int) bool { return is.bits[i/32]&(1<<uint(i%32)) != 0 }

// UnpackArgs unpacks the positional and keyword arguments of a call
// into the supplied parameters, which are given as an alternating list
// of names and pointers to variables.
//
// If a parameter's pointer is a bool, integer, string, *List, *Dict,
// Callable, Iterable, or any other Value-implementing type,
// UnpackArgs checks the argument against that type. A **T pointer
// unpacks to any Value (T must itself implement Value).
//
// A parameter name ending in "?" marks it and all following
// parameters optional. A name ending in "??" is additionally exempt
// from eager unpacking failures some callers rely on to special-case
// "argument omitted" from "argument is None"; this implementation
// treats "??" the same as "?".
func UnpackArgs(fnname string, args Tuple, kwargs []Tuple, pairs ...interface{}) error {
	nparams := len(pairs) / 2
	var defined intset
	defined.init(nparams)

	paramName := func(x interface{}) (string, bool) {
		name := x.(string)
		if strings.HasSuffix(name, "??") {
			return name[:len(name)-2], true
		} else if strings.HasSuffix(name, "?") {
			return name[:len(name)-1], true
		}
		return name, false
	}

	if len(args) > nparams {
		return fmt.Errorf("%s: got %d arguments, want at most %d", fnname, len(args), nparams)
	}
	for i, arg := range args {
		defined.set(i)
		if err := unpackOneArg(arg, pairs[2*i+1]); err != nil {
			name, _ := paramName(pairs[2*i])
			return fmt.Errorf("%s: for parameter %s: %s", fnname, name, err)
		}
	}

kwloop:
	for _, item := range kwargs {
		name, arg := item[0].(String), item[1]
		for i := 0; i < nparams; i++ {
			pname, _ := paramName(pairs[2*i])
			if pname == string(name) {
				if defined.set(i) {
					return fmt.Errorf("%s: got multiple values for keyword argument %s", fnname, name)
				}
				if err := unpackOneArg(arg, pairs[2*i+1]); err != nil {
					return fmt.Errorf("%s: for parameter %s: %s", fnname, name, err)
				}
				continue kwloop
			}
		}
		return fmt.Errorf("%s: unexpected keyword argument %s", fnname, name)
	}

	for i := 0; i < nparams; i++ {
		name, opt := paramName(pairs[2*i])
		if opt {
			break // this and all following parameters are optional
		}
		if !defined.get(i) {
			return fmt.Errorf("%s: missing argument for %s", fnname, name)
		}
	}
	return nil
}

// UnpackPositionalArgs unpacks the positional arguments of a call into
// vars, rejecting any keyword argument (used by built-ins that accept
// no named parameters at all). min is the number of leading vars that
// are required; the rest are optional.
func UnpackPositionalArgs(fnname string, args Tuple, kwargs []Tuple, min int, vars ...interface{}) error {
	if len(kwargs) > 0 {
		return fmt.Errorf("%s: unexpected keyword argument %s", fnname, kwargs[0][0])
	}
	max := len(vars)
	if len(args) < min {
		var atleast string
		if min < max {
			atleast = "at least "
		}
		return fmt.Errorf("%s: got %d arguments, want %s%d", fnname, len(args), atleast, min)
	}
	if len(args) > max {
		var atmost string
		if max > min {
			atmost = "at most "
		}
		return fmt.Errorf("%s: got %d arguments, want %s%d", fnname, len(args), atmost, max)
	}
	for i, arg := range args {
		if err := unpackOneArg(arg, vars[i]); err != nil {
			return fmt.Errorf("%s: for parameter %d: %s", fnname, i+1, err)
		}
	}
	return nil
}

// unpackOneArg converts v into whatever *ptr points to, or fails with
// a wrong-type error.
func unpackOneArg(v Value, ptr interface{}) error {
	switch ptr := ptr.(type) {
	case Unpacker:
		return ptr.Unpack(v)
	case *Value:
		*ptr = v
	case *string:
		s, ok := AsString(v)
		if !ok {
			return fmt.Errorf("got %s, want string", v.Type())
		}
		*ptr = s
	case *bool:
		*ptr = bool(v.Truth())
	case *int, *int8, *int16, *int32, *int64,
		*uint, *uint8, *uint16, *uint32, *uint64, *uintptr:
		return AsInt(v, ptr)
	default:
		ptrv := reflect.ValueOf(ptr)
		if ptrv.Kind() != reflect.Ptr {
			panic(fmt.Sprintf("internal error: not a pointer: %T", ptr))
		}
		paramVar := ptrv.Elem()
		if paramVar.Kind() == reflect.Interface {
			param := reflect.ValueOf(v)
			if !param.Type().Implements(paramVar.Type()) {
				return fmt.Errorf("got %s, want %s", param.Type(), paramVar.Type())
			}
			paramVar.Set(param)
		} else if vv := reflect.ValueOf(v); vv.Type().AssignableTo(paramVar.Type()) {
			paramVar.Set(vv)
		} else {
			return fmt.Errorf("got %s, want %s", v.Type(), paramVar.Type())
		}
	}
	return nil
}

// AsString unpacks a string Value, or reports failure via ok.
func AsString(x Value) (string, bool) { v, ok := x.(String); return string(v), ok }

// NumberToInt converts a numeric Value to Int.
func NumberToInt(v Value) (Int, error) {
	if i, ok := v.(Int); ok {
		return i, nil
	}
	return Int{}, fmt.Errorf("cannot convert %s to int", v.Type())
}

// AsInt32 returns the value of x as an int, or an error if x is not an
// Int exactly representable as a (platform) int.
func AsInt32(x Value) (int, error) {
	var i int
	if err := AsInt(x, &i); err != nil {
		return 0, err
	}
	return i, nil
}

// AsInt unpacks x, which must be an Int, into ptr, which must be one
// of *int, *int8, *int16, *int32, *int64, *uint, *uint8, *uint16,
// *uint32, *uint64, or *uintptr, failing if x does not fit.
func AsInt(x Value, ptr interface{}) error {
	xint, ok := x.(Int)
	if !ok {
		return fmt.Errorf("got %s, want int", x.Type())
	}

	bitSize := reflect.TypeOf(ptr).Elem().Bits()
	switch ptr := ptr.(type) {
	case *int, *int8, *int16, *int32, *int64:
		i, ok := xint.Int64()
		if !ok || (bitSize < 64 && !(-1<<uint(bitSize-1) <= i && i < 1<<uint(bitSize-1))) {
			return fmt.Errorf("%s out of range (want value in signed %d-bit range)", xint, bitSize)
		}
		switch ptr := ptr.(type) {
		case *int:
			*ptr = int(i)
		case *int8:
			*ptr = int8(i)
		case *int16:
			*ptr = int16(i)
		case *int32:
			*ptr = int32(i)
		case *int64:
			*ptr = i
		}

	case *uint, *uint8, *uint16, *uint32, *uint64, *uintptr:
		if xint.Sign() < 0 {
			return fmt.Errorf("%s out of range (want value in unsigned %d-bit range)", xint, bitSize)
		}
		i, ok := xint.Int64()
		if !ok || (bitSize < 64 && uint64(i) >= 1<<uint(bitSize)) {
			return fmt.Errorf("%s out of range (want value in unsigned %d-bit range)", xint, bitSize)
		}
		switch ptr := ptr.(type) {
		case *uint:
			*ptr = uint(i)
		case *uint8:
			*ptr = uint8(i)
		case *uint16:
			*ptr = uint16(i)
		case *uint32:
			*ptr = uint32(i)
		case *uint64:
			*ptr = uint64(i)
		case *uintptr:
			*ptr = uintptr(i)
		}
	default:
		panic(fmt.Sprintf("internal error: invalid integer pointer type %T", ptr))
	}
	return nil
}
