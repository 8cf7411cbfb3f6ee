package value

import (
	"fmt"
	"math"

	"github.com/c360/graphmesh/errors"
)

// Coerce converts the value in place to the target numeric variant when the
// conversion is lossless: widening within the same signedness, float32 to
// float64, an integer within ±2^53 to float64, or re-tagging a payload that
// fits the target's range (the case
// for JSON integers parsed as int64 under a schema that pins a narrower
// type). Any other conversion fails with a type mismatch.
func (v *Value) Coerce(target Type) error {
	if v.typ == target {
		return nil
	}

	mismatch := func() error {
		return errors.WrapInvalid(errors.ErrTypeMismatch, "Value", "Coerce",
			fmt.Sprintf("%s to %s", v.typ, target))
	}

	switch {
	case v.typ.IsSignedInt() && target.IsSignedInt():
		if !signedFits(v.i, target) {
			return mismatch()
		}
	case v.typ.IsUnsignedInt() && target.IsUnsignedInt():
		if !unsignedFits(v.u, target) {
			return mismatch()
		}
	case v.typ == TypeFloat32 && target == TypeFloat64:
		// Always lossless.
	case v.typ.IsSignedInt() && target == TypeFloat64:
		if v.i < -(1<<53) || v.i > 1<<53 {
			return mismatch()
		}
		v.f = float64(v.i)
		v.i = 0
	case v.typ.IsUnsignedInt() && target == TypeFloat64:
		if v.u > 1<<53 {
			return mismatch()
		}
		v.f = float64(v.u)
		v.u = 0
	default:
		return mismatch()
	}

	v.typ = target
	return nil
}

func signedFits(n int64, target Type) bool {
	switch target {
	case TypeInt8:
		return n >= math.MinInt8 && n <= math.MaxInt8
	case TypeInt16:
		return n >= math.MinInt16 && n <= math.MaxInt16
	case TypeInt32:
		return n >= math.MinInt32 && n <= math.MaxInt32
	case TypeInt64:
		return true
	default:
		return false
	}
}

func unsignedFits(n uint64, target Type) bool {
	switch target {
	case TypeUint8:
		return n <= math.MaxUint8
	case TypeUint16:
		return n <= math.MaxUint16
	case TypeUint32:
		return n <= math.MaxUint32
	case TypeUint64:
		return true
	default:
		return false
	}
}
