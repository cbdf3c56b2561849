package config

// Engine storage defaults. Frame and operand regions are allocated once per
// engine and never move; the heap arena is sized up front and reclaimed by
// compaction rather than growth.
const (
	DefaultFrameStackBytes   = 512 * 1024
	DefaultOperandStackBytes = 128 * 1024
	DefaultHeapBytes         = 4 * 1024 * 1024
	DefaultMaxHandles        = 65536
)

// MaxEvalDepth bounds evaluator recursion. The check fires before the native
// call stack is at risk, so deep programs fail with a diagnostic instead of
// a crash.
const MaxEvalDepth = 10000

// GCThresholdPercent is the heap usage level at which the evaluator collects
// preemptively at the next safe point (the allocator itself never collects).
const GCThresholdPercent = 75

// MaxParBranches caps the branch count of a single parallel clause.
const MaxParBranches = 64

// Prelude routine names. The front end resolves calls to these by name.
const (
	PrintRoutineName   = "print"
	NewlineRoutineName = "newline"
	WholeRoutineName   = "whole"
)

// GlobalLevel is the lexical level of the outermost (program) frame.
const GlobalLevel = 1
