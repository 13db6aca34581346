package vdbe

const (
	OpInit = iota
	OpGoto
	OpGosub
	OpReturn
	OpInitCoroutine
	OpEndCoroutine
	OpYield
	OpHalt
	OpOnce
	OpNoop

	// conditional jumps
	OpIf
	OpIfNot
	OpIsNull
	OpNotNull
	OpIfPos
	OpIfNotZero
	OpDecrJumpZero
	OpJump
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// registers
	OpInteger
	OpReal
	OpString8
	OpNull
	OpCopy
	OpSCopy
	OpMove
	OpResultRow
	OpMustBeInt
	OpOffsetLimit
	OpCompare
	OpPermutation

	// expression
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpRemainder
	OpConcat
	OpAnd
	OpOr
	OpNot
	OpNegative
	OpCast
	OpFunction
	OpAggStep
	OpAggFinal

	// cursors
	OpOpenRead
	OpOpenTEphemeral
	OpOpenPseudo
	OpSorterOpen
	OpClose
	OpCount
	OpRewind
	OpSort
	OpLast
	OpNext
	OpPrev
	OpColumn
	OpRowid
	OpRowData
	OpNullRow
	OpMakeRecord
	OpIdxInsert
	OpIdxDelete
	OpDelete
	OpFound
	OpNotFound
	OpNextIdEphemeral
	OpSequence
	OpSequenceTest
	OpResetSorter
	OpSorterInsert
	OpSorterSort
	OpSorterNext
	OpSorterData

	opMax
)

// P5 flags of the comparison opcodes
const (
	CmpJumpIfNull = 0x10
	CmpStoreP2    = 0x20
	CmpNullEq     = 0x80
)

// P5 flag of OpCompare
const (
	CmpPermute = 0x01
)

var opNames = [opMax]string{
	OpInit:            "Init",
	OpGoto:            "Goto",
	OpGosub:           "Gosub",
	OpReturn:          "Return",
	OpInitCoroutine:   "InitCoroutine",
	OpEndCoroutine:    "EndCoroutine",
	OpYield:           "Yield",
	OpHalt:            "Halt",
	OpOnce:            "Once",
	OpNoop:            "Noop",
	OpIf:              "If",
	OpIfNot:           "IfNot",
	OpIsNull:          "IsNull",
	OpNotNull:         "NotNull",
	OpIfPos:           "IfPos",
	OpIfNotZero:       "IfNotZero",
	OpDecrJumpZero:    "DecrJumpZero",
	OpJump:            "Jump",
	OpEq:              "Eq",
	OpNe:              "Ne",
	OpLt:              "Lt",
	OpLe:              "Le",
	OpGt:              "Gt",
	OpGe:              "Ge",
	OpInteger:         "Integer",
	OpReal:            "Real",
	OpString8:         "String8",
	OpNull:            "Null",
	OpCopy:            "Copy",
	OpSCopy:           "SCopy",
	OpMove:            "Move",
	OpResultRow:       "ResultRow",
	OpMustBeInt:       "MustBeInt",
	OpOffsetLimit:     "OffsetLimit",
	OpCompare:         "Compare",
	OpPermutation:     "Permutation",
	OpAdd:             "Add",
	OpSubtract:        "Subtract",
	OpMultiply:        "Multiply",
	OpDivide:          "Divide",
	OpRemainder:       "Remainder",
	OpConcat:          "Concat",
	OpAnd:             "And",
	OpOr:              "Or",
	OpNot:             "Not",
	OpNegative:        "Negative",
	OpCast:            "Cast",
	OpFunction:        "Function",
	OpAggStep:         "AggStep",
	OpAggFinal:        "AggFinal",
	OpOpenRead:        "OpenRead",
	OpOpenTEphemeral:  "OpenTEphemeral",
	OpOpenPseudo:      "OpenPseudo",
	OpSorterOpen:      "SorterOpen",
	OpClose:           "Close",
	OpCount:           "Count",
	OpRewind:          "Rewind",
	OpSort:            "Sort",
	OpLast:            "Last",
	OpNext:            "Next",
	OpPrev:            "Prev",
	OpColumn:          "Column",
	OpRowid:           "Rowid",
	OpRowData:         "RowData",
	OpNullRow:         "NullRow",
	OpMakeRecord:      "MakeRecord",
	OpIdxInsert:       "IdxInsert",
	OpIdxDelete:       "IdxDelete",
	OpDelete:          "Delete",
	OpFound:           "Found",
	OpNotFound:        "NotFound",
	OpNextIdEphemeral: "NextIdEphemeral",
	OpSequence:        "Sequence",
	OpSequenceTest:    "SequenceTest",
	OpResetSorter:     "ResetSorter",
	OpSorterInsert:    "SorterInsert",
	OpSorterSort:      "SorterSort",
	OpSorterNext:      "SorterNext",
	OpSorterData:      "SorterData",
}

func OpName(op int) string {
	if op < 0 || op >= opMax {
		return "???"
	}
	return opNames[op]
}

// operands that may carry a jump target, labels are only resolved there
const (
	jumpP1 = 1 << iota
	jumpP2
	jumpP3
)

func opJumps(op int) int {
	switch op {
	case OpJump:
		return jumpP1 | jumpP2 | jumpP3
	case OpInitCoroutine:
		return jumpP2 | jumpP3
	case OpInit, OpGoto, OpGosub, OpYield, OpOnce, OpIf, OpIfNot, OpIsNull,
		OpNotNull, OpIfPos, OpIfNotZero, OpDecrJumpZero, OpEq, OpNe, OpLt, OpLe,
		OpGt, OpGe, OpRewind, OpSort, OpLast, OpNext, OpPrev, OpFound, OpNotFound,
		OpSequenceTest, OpSorterSort, OpSorterNext:
		return jumpP2
	default:
		return 0
	}
}

func IsCompareOp(op int) bool {
	return op >= OpEq && op <= OpGe
}
