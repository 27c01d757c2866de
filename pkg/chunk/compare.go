package chunk

import (
	"errors"
	"fmt"
)

var ErrIncomparable = errors.New("incomparable values")

// Compare orders two non-NULL values. Numeric kinds compare across
// kind boundaries by widening to float.
func Compare(left, right Value) (int, error) {
	if left.Kind == right.Kind {
		switch left.Kind {
		case VK_BOOL:
			return b2i(left.Bool) - b2i(right.Bool), nil
		case VK_INT:
			return cmpOrdered(left.I64, right.I64), nil
		case VK_FLOAT:
			return cmpOrdered(left.F64, right.F64), nil
		case VK_STRING:
			return cmpOrdered(left.Str, right.Str), nil
		case VK_DECIMAL:
			return left.Dec.Cmp(right.Dec), nil
		}
	}
	lf, lok := left.AsFloat()
	rf, rok := right.AsFloat()
	if lok && rok {
		return cmpOrdered(lf, rf), nil
	}
	return 0, fmt.Errorf("%w: %s with %s", ErrIncomparable, left.Kind, right.Kind)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func cmpOrdered[T int64 | float64 | string](l, r T) int {
	if l < r {
		return -1
	} else if l > r {
		return 1
	}
	return 0
}
