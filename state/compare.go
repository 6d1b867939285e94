package state

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrNotComparable is returned by Compare when the operands have no ordering.
var ErrNotComparable = errors.New("values are not order-comparable")

// Equal reports deep equality. Booleans count as the numbers 0 and 1, so
// Bool(true) equals Number(1); any other mix of kinds is never equal.
func Equal(a, b Value) bool {
	a, b = normalize(a), normalize(b)
	if x, ok := numeric(a); ok {
		y, ok := numeric(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Object:
		y, ok := b.(Object)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders a against b and returns -1, 0 or +1. Numbers and booleans
// (false = 0, true = 1) order numerically, strings compare with strings and
// arrays compare lexicographically element by element. Every other pairing
// returns ErrNotComparable.
func Compare(a, b Value) (int, error) {
	a, b = normalize(a), normalize(b)
	if x, ok := numeric(a); ok {
		if y, ok := numeric(b); ok {
			return cmpOrdered(x, y), nil
		}
		return 0, ErrNotComparable
	}
	switch x := a.(type) {
	case String:
		if y, ok := b.(String); ok {
			return strings.Compare(string(x), string(y)), nil
		}
	case Array:
		if y, ok := b.(Array); ok {
			return compareArrays(x, y)
		}
	}
	return 0, ErrNotComparable
}

func compareArrays(x, y Array) (int, error) {
	for i := 0; i < len(x) && i < len(y); i++ {
		if Equal(x[i], y[i]) {
			continue
		}
		return Compare(x[i], y[i])
	}
	return cmpOrdered(len(x), len(y)), nil
}

func cmpOrdered[T int | Number](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func numeric(v Value) (Number, bool) {
	switch t := v.(type) {
	case Number:
		return t, true
	case Bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func normalize(v Value) Value {
	if v == nil {
		return Null{}
	}
	return v
}

// Format renders v for human-readable messages. Top-level strings are
// printed bare; nested strings are quoted. Booleans and null render as
// True, False and None, the spelling rule authors see in error reports.
func Format(v Value) string {
	var sb strings.Builder
	format(&sb, v, true)
	return sb.String()
}

func format(sb *strings.Builder, v Value, top bool) {
	switch t := normalize(v).(type) {
	case Null:
		sb.WriteString("None")
	case Bool:
		if t {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case Number:
		sb.WriteString(strconv.FormatFloat(float64(t), 'f', -1, 64))
	case String:
		if top {
			sb.WriteString(string(t))
			return
		}
		sb.WriteString("'")
		sb.WriteString(string(t))
		sb.WriteString("'")
	case Array:
		sb.WriteString("[")
		for i, e := range t {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, e, false)
		}
		sb.WriteString("]")
	case Object:
		sb.WriteString("{")
		for i, k := range t.Keys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("'")
			sb.WriteString(k)
			sb.WriteString("': ")
			format(sb, t[k], false)
		}
		sb.WriteString("}")
	}
}

// FormatFloat renders f as a float literal: integral values keep a trailing
// ".0" and magnitudes below 1e-4 or from 1e16 up use exponent notation, so
// 1 renders as "1.0" and 1e20 as "1e+20".
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	if abs := math.Abs(f); f != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
