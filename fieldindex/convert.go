package fieldindex

import (
	"cmp"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

// convert turns v into K.
func convert[K cmp.Ordered](v any) (K, error) {
	var zero K
	if k, ok := v.(K); ok {
		return k, nil
	}

	var (
		out any
		err error
	)
	switch any(zero).(type) {
	case string:
		out = fmt.Sprint(v)
	case int32:
		var n int64
		if n, err = toInt64(v); err == nil {
			if n < math.MinInt32 || n > math.MaxInt32 {
				err = fmt.Errorf("%w: %d overflows int32", ErrType, n)
			}
			out = int32(n) //nolint:gosec // G115: checked above
		}
	case int64:
		out, err = toInt64(v)
	case uint32:
		var n uint64
		if n, err = toUint64(v); err == nil {
			if n > math.MaxUint32 {
				err = fmt.Errorf("%w: %d overflows uint32", ErrType, n)
			}
			out = uint32(n) //nolint:gosec // G115: checked above
		}
	case uint64:
		out, err = toUint64(v)
	case float64:
		out, err = toFloat64(v)
	default:
		err = fmt.Errorf("%w: unsupported key type %T", ErrType, zero)
	}
	if err != nil {
		return zero, err
	}
	return out.(K), nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			break
		}
		return int64(x), nil //nolint:gosec // G115: checked above
	case uint64:
		if x > math.MaxInt64 {
			break
		}
		return int64(x), nil //nolint:gosec // G115: checked above
	case float32:
		return integral(float64(x))
	case float64:
		return integral(x)
	case json.Number:
		return strconv.ParseInt(x.String(), 10, 64)
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrType, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %v (%T) is not an integer", ErrType, v, v)
}

func integral(f float64) (int64, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrType, f)
	}
	return int64(f), nil
}

func toUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case uint:
		return uint64(x), nil
	case uint64:
		return x, nil
	case string:
		n, err := strconv.ParseUint(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrType, err)
		}
		return n, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrType, n)
	}
	return uint64(n), nil
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrType, err)
		}
		return f, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}
