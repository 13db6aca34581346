package vdbe

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	MinMaxNone = iota
	MinMaxMin
	MinMaxMax
)

// FuncDef describes a builtin function. Aggregates provide Step/Final and
// keep their state in the accumulator register.
type FuncDef struct {
	Name   string
	NArg   int // -1 means variadic
	Agg    bool
	MinMax int

	Scalar func([]Value, *Coll) (Value, error)
	Step   func(*aggCtx, []Value, *Coll)
	Final  func(*aggCtx) Value
}

type aggCtx struct {
	count  int64
	sumI   int64
	sumR   float64
	isReal bool
	val    Value
	set    bool
	buf    strings.Builder
}

// ----------------------------------------------------------------------------
// aggregates

func stepCount(ctx *aggCtx, args []Value, _ *Coll) {
	if len(args) == 0 || !args[0].IsNull() {
		ctx.count++
	}
}

func finalCount(ctx *aggCtx) Value { return IntValue(ctx.count) }

func stepSum(ctx *aggCtx, args []Value, _ *Coll) {
	v := args[0]
	if v.IsNull() {
		return
	}
	ctx.count++
	n := numeric(v)
	if n.Ty == ValReal || ctx.isReal {
		if !ctx.isReal {
			ctx.isReal = true
			ctx.sumR = float64(ctx.sumI)
		}
		ctx.sumR += n.AsReal()
		return
	}
	ctx.sumI += n.Int
}

func finalSum(ctx *aggCtx) Value {
	if ctx.count == 0 {
		return Null()
	}
	if ctx.isReal {
		return RealValue(ctx.sumR)
	}
	return IntValue(ctx.sumI)
}

func finalTotal(ctx *aggCtx) Value {
	if ctx.isReal {
		return RealValue(ctx.sumR)
	}
	return RealValue(float64(ctx.sumI))
}

func finalAvg(ctx *aggCtx) Value {
	if ctx.count == 0 {
		return Null()
	}
	if ctx.isReal {
		return RealValue(ctx.sumR / float64(ctx.count))
	}
	return RealValue(float64(ctx.sumI) / float64(ctx.count))
}

func stepMinMax(dir int) func(*aggCtx, []Value, *Coll) {
	return func(ctx *aggCtx, args []Value, coll *Coll) {
		v := args[0]
		if v.IsNull() {
			return
		}
		if !ctx.set {
			ctx.val = v
			ctx.set = true
			return
		}
		c := Compare(v, ctx.val, coll)
		if (dir == MinMaxMin && c < 0) || (dir == MinMaxMax && c > 0) {
			ctx.val = v
		}
	}
}

func finalMinMax(ctx *aggCtx) Value {
	if !ctx.set {
		return Null()
	}
	return ctx.val
}

func stepGroupConcat(ctx *aggCtx, args []Value, _ *Coll) {
	v := args[0]
	if v.IsNull() {
		return
	}
	if ctx.set {
		sep := ","
		if len(args) > 1 {
			sep = args[1].String()
		}
		ctx.buf.WriteString(sep)
	}
	ctx.set = true
	ctx.buf.WriteString(v.String())
}

func finalGroupConcat(ctx *aggCtx) Value {
	if !ctx.set {
		return Null()
	}
	return StrValue(ctx.buf.String())
}

// ----------------------------------------------------------------------------
// scalars

func anyNull(args []Value) bool {
	for _, x := range args {
		if x.IsNull() {
			return true
		}
	}
	return false
}

func fnAbs(args []Value, _ *Coll) (Value, error) {
	v := args[0]
	if v.IsNull() {
		return v, nil
	}
	n := numeric(v)
	if n.Ty == ValInt {
		if n.Int < 0 {
			return IntValue(-n.Int), nil
		}
		return n, nil
	}
	return RealValue(math.Abs(n.Real)), nil
}

var (
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
)

func fnUpper(args []Value, _ *Coll) (Value, error) {
	if args[0].IsNull() {
		return args[0], nil
	}
	foldLock.Lock()
	defer foldLock.Unlock()
	return StrValue(upperCaser.String(args[0].String())), nil
}

func fnLower(args []Value, _ *Coll) (Value, error) {
	if args[0].IsNull() {
		return args[0], nil
	}
	foldLock.Lock()
	defer foldLock.Unlock()
	return StrValue(lowerCaser.String(args[0].String())), nil
}

func fnLength(args []Value, _ *Coll) (Value, error) {
	if args[0].IsNull() {
		return args[0], nil
	}
	return IntValue(int64(utf8.RuneCountInString(args[0].String()))), nil
}

func fnTypeof(args []Value, _ *Coll) (Value, error) {
	return StrValue(args[0].TypeName()), nil
}

func fnCoalesce(args []Value, _ *Coll) (Value, error) {
	for _, x := range args {
		if !x.IsNull() {
			return x, nil
		}
	}
	return Null(), nil
}

func fnNullif(args []Value, coll *Coll) (Value, error) {
	if !args[0].IsNull() && !args[1].IsNull() && Compare(args[0], args[1], coll) == 0 {
		return Null(), nil
	}
	return args[0], nil
}

func fnIif(args []Value, _ *Coll) (Value, error) {
	if t, _ := args[0].Truth(); t {
		return args[1], nil
	}
	return args[2], nil
}

func fnSubstr(args []Value, _ *Coll) (Value, error) {
	if anyNull(args) {
		return Null(), nil
	}
	s := []rune(args[0].String())
	start := args[1].AsInt()
	n := int64(len(s)) + 1
	if len(args) > 2 {
		n = args[2].AsInt()
	}
	if start < 0 {
		start = int64(len(s)) + start + 1
		if start < 1 {
			n += start - 1
			start = 1
		}
	} else if start == 0 {
		start = 1
		n--
	}
	if n <= 0 || start > int64(len(s)) {
		return StrValue(""), nil
	}
	from := start - 1
	to := from + n
	if to > int64(len(s)) {
		to = int64(len(s))
	}
	return StrValue(string(s[from:to])), nil
}

func trimFn(fn func(string, string) string) func([]Value, *Coll) (Value, error) {
	return func(args []Value, _ *Coll) (Value, error) {
		if anyNull(args) {
			return Null(), nil
		}
		cut := " "
		if len(args) > 1 {
			cut = args[1].String()
		}
		return StrValue(fn(args[0].String(), cut)), nil
	}
}

func fnReplace(args []Value, _ *Coll) (Value, error) {
	if anyNull(args) {
		return Null(), nil
	}
	return StrValue(strings.ReplaceAll(args[0].String(), args[1].String(), args[2].String())), nil
}

func fnInstr(args []Value, _ *Coll) (Value, error) {
	if anyNull(args) {
		return Null(), nil
	}
	idx := strings.Index(args[0].String(), args[1].String())
	if idx < 0 {
		return IntValue(0), nil
	}
	return IntValue(int64(utf8.RuneCountInString(args[0].String()[:idx])) + 1), nil
}

func fnRound(args []Value, _ *Coll) (Value, error) {
	if anyNull(args) {
		return Null(), nil
	}
	digits := int64(0)
	if len(args) > 1 {
		digits = args[1].AsInt()
	}
	p := math.Pow(10, float64(digits))
	return RealValue(math.Round(args[0].AsReal()*p) / p), nil
}

// like(pattern, value [, escape]) returns 1 when value matches pattern
func fnLike(args []Value, _ *Coll) (Value, error) {
	if anyNull(args) {
		return Null(), nil
	}
	var esc rune
	if len(args) > 2 {
		e := args[2].String()
		if utf8.RuneCountInString(e) != 1 {
			return Null(), errors.Mark(
				errors.New("ESCAPE expression must be a single character"),
				ErrRuntime,
			)
		}
		esc, _ = utf8.DecodeRuneInString(e)
	}
	return BoolValue(likeMatch(args[0].String(), args[1].String(), esc)), nil
}

func scalarMinMax(dir int) func([]Value, *Coll) (Value, error) {
	return func(args []Value, coll *Coll) (Value, error) {
		if anyNull(args) {
			return Null(), nil
		}
		out := args[0]
		for _, x := range args[1:] {
			c := Compare(x, out, coll)
			if (dir == MinMaxMin && c < 0) || (dir == MinMaxMax && c > 0) {
				out = x
			}
		}
		return out, nil
	}
}

var funcList = []*FuncDef{
	{Name: "count", NArg: 0, Agg: true, Step: stepCount, Final: finalCount},
	{Name: "count", NArg: 1, Agg: true, Step: stepCount, Final: finalCount},
	{Name: "sum", NArg: 1, Agg: true, Step: stepSum, Final: finalSum},
	{Name: "total", NArg: 1, Agg: true, Step: stepSum, Final: finalTotal},
	{Name: "avg", NArg: 1, Agg: true, Step: stepSum, Final: finalAvg},
	{Name: "min", NArg: 1, Agg: true, MinMax: MinMaxMin, Step: stepMinMax(MinMaxMin), Final: finalMinMax},
	{Name: "max", NArg: 1, Agg: true, MinMax: MinMaxMax, Step: stepMinMax(MinMaxMax), Final: finalMinMax},
	{Name: "group_concat", NArg: 1, Agg: true, Step: stepGroupConcat, Final: finalGroupConcat},
	{Name: "group_concat", NArg: 2, Agg: true, Step: stepGroupConcat, Final: finalGroupConcat},

	{Name: "min", NArg: -1, Scalar: scalarMinMax(MinMaxMin)},
	{Name: "max", NArg: -1, Scalar: scalarMinMax(MinMaxMax)},
	{Name: "abs", NArg: 1, Scalar: fnAbs},
	{Name: "upper", NArg: 1, Scalar: fnUpper},
	{Name: "lower", NArg: 1, Scalar: fnLower},
	{Name: "length", NArg: 1, Scalar: fnLength},
	{Name: "typeof", NArg: 1, Scalar: fnTypeof},
	{Name: "coalesce", NArg: -1, Scalar: fnCoalesce},
	{Name: "ifnull", NArg: 2, Scalar: fnCoalesce},
	{Name: "nullif", NArg: 2, Scalar: fnNullif},
	{Name: "iif", NArg: 3, Scalar: fnIif},
	{Name: "substr", NArg: 2, Scalar: fnSubstr},
	{Name: "substr", NArg: 3, Scalar: fnSubstr},
	{Name: "trim", NArg: 1, Scalar: trimFn(strings.Trim)},
	{Name: "trim", NArg: 2, Scalar: trimFn(strings.Trim)},
	{Name: "ltrim", NArg: 1, Scalar: trimFn(strings.TrimLeft)},
	{Name: "ltrim", NArg: 2, Scalar: trimFn(strings.TrimLeft)},
	{Name: "rtrim", NArg: 1, Scalar: trimFn(strings.TrimRight)},
	{Name: "rtrim", NArg: 2, Scalar: trimFn(strings.TrimRight)},
	{Name: "replace", NArg: 3, Scalar: fnReplace},
	{Name: "instr", NArg: 2, Scalar: fnInstr},
	{Name: "round", NArg: 1, Scalar: fnRound},
	{Name: "round", NArg: 2, Scalar: fnRound},
	{Name: "like", NArg: 2, Scalar: fnLike},
	{Name: "like", NArg: 3, Scalar: fnLike},
}

// LookupFunc finds a function by name and number of arguments. An exact
// arity wins over a variadic definition; the variadic scalar min/max only
// accept 2 or more arguments.
func LookupFunc(name string, nArg int) *FuncDef {
	n := strings.ToLower(name)
	var variadic *FuncDef
	for _, f := range funcList {
		if f.Name != n {
			continue
		}
		if f.NArg == nArg {
			return f
		}
		if f.NArg < 0 && variadic == nil {
			variadic = f
		}
	}
	if variadic != nil && variadic.MinMax == MinMaxNone && (variadic.Name == "min" || variadic.Name == "max") && nArg < 2 {
		return nil
	}
	return variadic
}

// IsAggFunc tells whether the name refers to an aggregate for that arity
func IsAggFunc(name string, nArg int) bool {
	f := LookupFunc(name, nArg)
	return f != nil && f.Agg
}

// FuncExists reports whether any function carries that name
func FuncExists(name string) bool {
	n := strings.ToLower(name)
	for _, f := range funcList {
		if f.Name == n {
			return true
		}
	}
	return false
}
