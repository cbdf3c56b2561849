package ast

import "github.com/funvibe/skald/internal/mode"

// Op identifies a standard operator. The front end resolves operator symbols
// against operand modes, so every Op is already mode-specific; the engine
// never re-does overload resolution.
type Op uint8

const (
	OpNone Op = iota

	OpAddInt
	OpSubInt
	OpMulInt
	OpOverInt
	OpModInt
	OpNegInt
	OpAbsInt
	OpOddInt
	OpSignInt
	OpEqInt
	OpNeInt
	OpLtInt
	OpLeInt
	OpGtInt
	OpGeInt

	OpAddReal
	OpSubReal
	OpMulReal
	OpDivReal
	OpNegReal
	OpAbsReal
	OpEntier
	OpRound
	OpEqReal
	OpNeReal
	OpLtReal
	OpLeReal
	OpGtReal
	OpGeReal

	OpAnd
	OpOr
	OpNot
	OpEqBool
	OpNeBool

	OpEqChar
	OpNeChar
	OpLtChar
	OpLeChar
	OpGtChar
	OpGeChar
	OpAbsChar
	OpRepr

	OpUpb
	OpLwb
	OpConcat
)

type opInfo struct {
	name   string
	arity  int
	result int32 // mode.NoMode when derived from the left operand
}

var opTable = map[Op]opInfo{
	OpAddInt:  {"+", 2, mode.IntIndex},
	OpSubInt:  {"-", 2, mode.IntIndex},
	OpMulInt:  {"*", 2, mode.IntIndex},
	OpOverInt: {"%", 2, mode.IntIndex},
	OpModInt:  {"%*", 2, mode.IntIndex},
	OpNegInt:  {"-", 1, mode.IntIndex},
	OpAbsInt:  {"ABS", 1, mode.IntIndex},
	OpOddInt:  {"ODD", 1, mode.BoolIndex},
	OpSignInt: {"SIGN", 1, mode.IntIndex},
	OpEqInt:   {"=", 2, mode.BoolIndex},
	OpNeInt:   {"/=", 2, mode.BoolIndex},
	OpLtInt:   {"<", 2, mode.BoolIndex},
	OpLeInt:   {"<=", 2, mode.BoolIndex},
	OpGtInt:   {">", 2, mode.BoolIndex},
	OpGeInt:   {">=", 2, mode.BoolIndex},

	OpAddReal: {"+", 2, mode.RealIndex},
	OpSubReal: {"-", 2, mode.RealIndex},
	OpMulReal: {"*", 2, mode.RealIndex},
	OpDivReal: {"/", 2, mode.RealIndex},
	OpNegReal: {"-", 1, mode.RealIndex},
	OpAbsReal: {"ABS", 1, mode.RealIndex},
	OpEntier:  {"ENTIER", 1, mode.IntIndex},
	OpRound:   {"ROUND", 1, mode.IntIndex},
	OpEqReal:  {"=", 2, mode.BoolIndex},
	OpNeReal:  {"/=", 2, mode.BoolIndex},
	OpLtReal:  {"<", 2, mode.BoolIndex},
	OpLeReal:  {"<=", 2, mode.BoolIndex},
	OpGtReal:  {">", 2, mode.BoolIndex},
	OpGeReal:  {">=", 2, mode.BoolIndex},

	OpAnd:    {"AND", 2, mode.BoolIndex},
	OpOr:     {"OR", 2, mode.BoolIndex},
	OpNot:    {"NOT", 1, mode.BoolIndex},
	OpEqBool: {"=", 2, mode.BoolIndex},
	OpNeBool: {"/=", 2, mode.BoolIndex},

	OpEqChar:  {"=", 2, mode.BoolIndex},
	OpNeChar:  {"/=", 2, mode.BoolIndex},
	OpLtChar:  {"<", 2, mode.BoolIndex},
	OpLeChar:  {"<=", 2, mode.BoolIndex},
	OpGtChar:  {">", 2, mode.BoolIndex},
	OpGeChar:  {">=", 2, mode.BoolIndex},
	OpAbsChar: {"ABS", 1, mode.IntIndex},
	OpRepr:    {"REPR", 1, mode.CharIndex},

	OpUpb:    {"UPB", 1, mode.IntIndex},
	OpLwb:    {"LWB", 1, mode.IntIndex},
	OpConcat: {"+", 2, mode.NoMode},
}

func (o Op) String() string {
	if info, ok := opTable[o]; ok {
		return info.name
	}
	return "op?"
}

// Arity reports operand count, 0 for unknown ops.
func (o Op) Arity() int { return opTable[o].arity }

// ResultMode computes the yield mode given the left (or sole) operand mode.
func (o Op) ResultMode(left int32) int32 {
	info := opTable[o]
	if info.result == mode.NoMode {
		return left
	}
	return info.result
}
