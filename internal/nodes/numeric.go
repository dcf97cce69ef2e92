package nodes

import "fmt"

// number unpacks any Go numeric value. integral is true for integer kinds.
func number(v any) (f float64, i int64, integral, ok bool) {
	switch x := v.(type) {
	case int:
		return float64(x), int64(x), true, true
	case int8:
		return float64(x), int64(x), true, true
	case int16:
		return float64(x), int64(x), true, true
	case int32:
		return float64(x), int64(x), true, true
	case int64:
		return float64(x), x, true, true
	case uint:
		return float64(x), int64(x), true, true
	case uint8:
		return float64(x), int64(x), true, true
	case uint16:
		return float64(x), int64(x), true, true
	case uint32:
		return float64(x), int64(x), true, true
	case uint64:
		return float64(x), int64(x), true, true
	case float32:
		return float64(x), int64(x), false, true
	case float64:
		return x, int64(x), false, true
	}
	return 0, 0, false, false
}

// arith applies an operation to two numbers. Two integers give an int,
// anything else gives a float64.
func arith(a, b any, fop func(x, y float64) float64, iop func(x, y int64) int64) (any, error) {
	af, ai, aInt, ok := number(a)
	if !ok {
		return nil, fmt.Errorf("not a number: %v (%T)", a, a)
	}
	bf, bi, bInt, ok := number(b)
	if !ok {
		return nil, fmt.Errorf("not a number: %v (%T)", b, b)
	}
	if aInt && bInt {
		return int(iop(ai, bi)), nil
	}
	return fop(af, bf), nil
}

func add(a, b any) (any, error) {
	return arith(a, b,
		func(x, y float64) float64 { return x + y },
		func(x, y int64) int64 { return x + y })
}

func mul(a, b any) (any, error) {
	return arith(a, b,
		func(x, y float64) float64 { return x * y },
		func(x, y int64) int64 { return x * y })
}

// toFloat widens numbers so CEL sees one numeric type whatever the source
// (YAML ints, JSON floats, Go ints).
func toFloat(v any) any {
	if f, _, _, ok := number(v); ok {
		return f
	}
	return v
}

// intValue reads an integer setting, accepting any numeric kind.
func intValue(v any, def int) int {
	if _, i, _, ok := number(v); ok {
		return int(i)
	}
	return def
}
