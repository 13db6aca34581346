package vdbe

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	ValNull = iota
	ValInt
	ValReal
	ValStr
	ValRecord

	// internal only, an aggregate accumulator living inside of a register
	valAgg
)

// Value is the content of a register or a field of a record. Records are
// values as well, they are produced by OpMakeRecord and stored into relation
// cursors.
type Value struct {
	Ty   int
	Int  int64
	Real float64
	Str  string
	Rec  []Value

	agg *aggCtx
}

func Null() Value                 { return Value{Ty: ValNull} }
func IntValue(i int64) Value      { return Value{Ty: ValInt, Int: i} }
func RealValue(f float64) Value   { return Value{Ty: ValReal, Real: f} }
func StrValue(s string) Value     { return Value{Ty: ValStr, Str: s} }
func RecordValue(r []Value) Value { return Value{Ty: ValRecord, Rec: r} }

func BoolValue(b bool) Value {
	if b {
		return IntValue(1)
	}
	return IntValue(0)
}

func (self Value) IsNull() bool { return self.Ty == ValNull || self.Ty == valAgg }

func (self Value) IsNumeric() bool { return self.Ty == ValInt || self.Ty == ValReal }

func (self Value) TypeName() string {
	switch self.Ty {
	case ValInt:
		return "integer"
	case ValReal:
		return "real"
	case ValStr:
		return "text"
	case ValRecord:
		return "record"
	default:
		return "null"
	}
}

// AsReal converts the value into a float, text is parsed with leading numeric
// prefix like what a relaxed SQL engine does
func (self Value) AsReal() float64 {
	switch self.Ty {
	case ValInt:
		return float64(self.Int)
	case ValReal:
		return self.Real
	case ValStr:
		f, _ := parseNumPrefix(self.Str)
		return f.AsReal()
	default:
		return 0.0
	}
}

func (self Value) AsInt() int64 {
	switch self.Ty {
	case ValInt:
		return self.Int
	case ValReal:
		return int64(self.Real)
	case ValStr:
		f, _ := parseNumPrefix(self.Str)
		return f.AsInt()
	default:
		return 0
	}
}

// Truth returns the boolean interpretation of the value, the second return
// indicates whether the value is null, ie the 3rd state of SQL's logic
func (self Value) Truth() (bool, bool) {
	switch self.Ty {
	case ValInt:
		return self.Int != 0, false
	case ValReal:
		return self.Real != 0.0, false
	case ValStr:
		return self.AsReal() != 0.0, false
	case ValRecord:
		return true, false
	default:
		return false, true
	}
}

func (self Value) String() string {
	switch self.Ty {
	case ValInt:
		return strconv.FormatInt(self.Int, 10)
	case ValReal:
		return formatReal(self.Real)
	case ValStr:
		return self.Str
	case ValRecord:
		buf := &bytes.Buffer{}
		buf.WriteString("(")
		for idx, x := range self.Rec {
			if idx > 0 {
				buf.WriteString(",")
			}
			buf.WriteString(x.String())
		}
		buf.WriteString(")")
		return buf.String()
	default:
		return "NULL"
	}
}

func formatReal(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', 15, 64)
}

// parse the longest numeric prefix of a string, the bool indicates whether
// the whole string is a number
func parseNumPrefix(s string) (Value, bool) {
	t := strings.TrimSpace(s)
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return IntValue(i), true
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		return RealValue(f), true
	}

	end := 0
	seenDigit := false
	seenDot := false
	for end < len(t) {
		c := t[end]
		isSign := (c == '-' || c == '+') && end == 0
		if c >= '0' && c <= '9' {
			seenDigit = true
		} else if c == '.' && !seenDot {
			seenDot = true
		} else if !isSign {
			break
		}
		end++
	}
	if !seenDigit {
		return IntValue(0), false
	}
	if f, err := strconv.ParseFloat(t[:end], 64); err == nil {
		if !seenDot && f == math.Trunc(f) {
			return IntValue(int64(f)), false
		}
		return RealValue(f), false
	}
	return IntValue(0), false
}

// MustBeInt implements the integer coercion used by LIMIT/OFFSET counters
func MustBeInt(v Value) (Value, error) {
	switch v.Ty {
	case ValInt:
		return v, nil
	case ValReal:
		if v.Real == math.Trunc(v.Real) {
			return IntValue(int64(v.Real)), nil
		}
	case ValStr:
		if n, whole := parseNumPrefix(v.Str); whole {
			return MustBeInt(n)
		}
	}
	return Null(), errors.Mark(
		errors.Newf("datatype mismatch: %s is not an integer", v.String()),
		ErrRuntime,
	)
}

func numeric(v Value) Value {
	switch v.Ty {
	case ValInt, ValReal:
		return v
	case ValStr:
		n, _ := parseNumPrefix(v.Str)
		return n
	default:
		return IntValue(0)
	}
}

func arith(op int, a, b Value) (Value, error) {
	if a.IsNull() || b.IsNull() {
		return Null(), nil
	}
	a = numeric(a)
	b = numeric(b)

	if a.Ty == ValInt && b.Ty == ValInt {
		x, y := a.Int, b.Int
		switch op {
		case OpAdd:
			return IntValue(x + y), nil
		case OpSubtract:
			return IntValue(x - y), nil
		case OpMultiply:
			return IntValue(x * y), nil
		case OpDivide:
			if y == 0 {
				return Null(), nil
			}
			return IntValue(x / y), nil
		case OpRemainder:
			if y == 0 {
				return Null(), nil
			}
			return IntValue(x % y), nil
		}
	} else {
		x, y := a.AsReal(), b.AsReal()
		switch op {
		case OpAdd:
			return RealValue(x + y), nil
		case OpSubtract:
			return RealValue(x - y), nil
		case OpMultiply:
			return RealValue(x * y), nil
		case OpDivide:
			if y == 0.0 {
				return Null(), nil
			}
			return RealValue(x / y), nil
		case OpRemainder:
			if int64(y) == 0 {
				return Null(), nil
			}
			return RealValue(float64(int64(x) % int64(y))), nil
		}
	}
	return Null(), errors.AssertionFailedf("unknown arithmetic opcode %d", op)
}

func typeRank(v Value) int {
	switch v.Ty {
	case ValInt, ValReal:
		return 1
	case ValStr:
		return 2
	case ValRecord:
		return 3
	default:
		return 0
	}
}

// Compare defines the total order of values: NULL < numbers < text < record.
// Text is compared with the collation, nil means binary.
func Compare(a, b Value, coll *Coll) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case 0:
		return 0
	case 1:
		if a.Ty == ValInt && b.Ty == ValInt {
			switch {
			case a.Int < b.Int:
				return -1
			case a.Int > b.Int:
				return 1
			default:
				return 0
			}
		}
		x, y := a.AsReal(), b.AsReal()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case 2:
		return coll.Compare(a.Str, b.Str)
	default:
		return compareFields(a.Rec, b.Rec, nil)
	}
}

// CastValue converts a value into the named type, used by CAST
func CastValue(v Value, ty string) (Value, error) {
	if v.IsNull() {
		return v, nil
	}
	switch strings.ToLower(ty) {
	case "int", "integer":
		return IntValue(v.AsInt()), nil
	case "number", "numeric":
		return numeric(v), nil
	case "real", "float", "double":
		return RealValue(v.AsReal()), nil
	case "text", "string", "varchar":
		return StrValue(v.String()), nil
	default:
		return Null(), errors.Newf("unknown type %q in CAST", ty)
	}
}

func (self Value) GoString() string {
	return fmt.Sprintf("%s(%s)", self.TypeName(), self.String())
}
