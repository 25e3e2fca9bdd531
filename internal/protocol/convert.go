package protocol

// Conversion helpers for serializer-decoded values. Integer widths and
// signedness vary between formats, so typed extraction normalizes here.

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBytes(v any) ([]byte, bool) {
	b, ok := v.([]byte)
	return b, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint:
		return uint64(n), true
	case int8:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case int16:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case int32:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint32:
		return uint64(n), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func asIntSlice(v any) ([]int, bool) {
	switch s := v.(type) {
	case []int:
		return s, true
	case []any:
		out := make([]int, len(s))
		for i, e := range s {
			n, ok := asUint64(e)
			if !ok {
				return nil, false
			}
			out[i] = int(n)
		}
		return out, true
	}
	return nil, false
}
