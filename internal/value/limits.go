package value

import "stratadb/internal/errs"

// Limits bounds the shape of values the substrate will accept.
// All fields are configurable at open; the zero value is invalid, use
// DefaultLimits.
type Limits struct {
	MaxKeyBytes          int
	MaxStringBytes       int
	MaxBytesLen          int
	MaxValueBytesEncoded int
	MaxArrayLen          int
	MaxObjectEntries     int
	MaxNestingDepth      int
}

// DefaultLimits returns the substrate's out-of-the-box size and shape
// bounds.
func DefaultLimits() Limits {
	const mib = 1 << 20
	return Limits{
		MaxKeyBytes:          1024,
		MaxStringBytes:       16 * mib,
		MaxBytesLen:          16 * mib,
		MaxValueBytesEncoded: 32 * mib,
		MaxArrayLen:          1_000_000,
		MaxObjectEntries:     1_000_000,
		MaxNestingDepth:      128,
	}
}

// Validate walks v and returns a ConstraintViolation if any bound in l is
// exceeded. EncodedSize estimates the wire footprint against
// MaxValueBytesEncoded.
func (l Limits) Validate(v Value) error {
	if err := l.validateDepth(v, 1); err != nil {
		return err
	}
	size := EncodedSize(v)
	if size > l.MaxValueBytesEncoded {
		return errs.New(errs.ConstraintViolation, "value encodes to %d bytes, exceeds %d", size, l.MaxValueBytesEncoded).
			WithDetails("reason", errs.ReasonValueTooLarge)
	}
	return nil
}

func (l Limits) validateDepth(v Value, depth int) error {
	if depth > l.MaxNestingDepth {
		return errs.New(errs.ConstraintViolation, "nesting depth exceeds %d", l.MaxNestingDepth).
			WithDetails("reason", errs.ReasonNestingTooDeep)
	}
	switch v.Kind() {
	case KindString:
		s, _ := v.AsString()
		if len(s) > l.MaxStringBytes {
			return errs.New(errs.ConstraintViolation, "string exceeds %d bytes", l.MaxStringBytes).
				WithDetails("reason", errs.ReasonValueTooLarge)
		}
	case KindBytes:
		b, _ := v.AsBytes()
		if len(b) > l.MaxBytesLen {
			return errs.New(errs.ConstraintViolation, "bytes value exceeds %d bytes", l.MaxBytesLen).
				WithDetails("reason", errs.ReasonValueTooLarge)
		}
	case KindArray:
		arr, _ := v.AsArray()
		if len(arr) > l.MaxArrayLen {
			return errs.New(errs.ConstraintViolation, "array exceeds %d entries", l.MaxArrayLen).
				WithDetails("reason", errs.ReasonValueTooLarge)
		}
		for _, item := range arr {
			if err := l.validateDepth(item, depth+1); err != nil {
				return err
			}
		}
	case KindObject:
		obj, _ := v.AsObject()
		if len(obj) > l.MaxObjectEntries {
			return errs.New(errs.ConstraintViolation, "object exceeds %d entries", l.MaxObjectEntries).
				WithDetails("reason", errs.ReasonValueTooLarge)
		}
		for _, fv := range obj {
			if err := l.validateDepth(fv, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// EncodedSize estimates the number of bytes v would occupy on the wire.
// Used only against MaxValueBytesEncoded, never for the actual WAL framing,
// which measures the real marshalled payload.
func EncodedSize(v Value) int {
	switch v.Kind() {
	case KindNull, KindBool:
		return 1
	case KindInt, KindFloat:
		return 8
	case KindString:
		s, _ := v.AsString()
		return len(s)
	case KindBytes:
		b, _ := v.AsBytes()
		return len(b)
	case KindArray:
		arr, _ := v.AsArray()
		total := 0
		for _, item := range arr {
			total += EncodedSize(item)
		}
		return total
	case KindObject:
		obj, _ := v.AsObject()
		total := 0
		for k, fv := range obj {
			total += len(k) + EncodedSize(fv)
		}
		return total
	default:
		return 0
	}
}
