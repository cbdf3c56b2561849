package evaluator

import "github.com/funvibe/skald/internal/ast"

// Stats is a snapshot of a run's execution counters.
type Stats struct {
	Steps          int64
	Installs       int64
	InstallsByKind map[string]int64

	FrameDepth   int32
	FrameBytes   int32
	OperandBytes int32

	HeapUsed     int32
	HeapCapacity int32
	LiveHandles  int32
	Collections  int64
}

// Stats snapshots the engine's counters. After Run it is final; during a run
// it reflects a moment, not a consistent cut.
func (e *Engine) Stats() Stats {
	depth, locals, operand := e.main.HighWater()
	s := Stats{
		Steps:        e.steps.Load(),
		Installs:     e.installs.Load(),
		FrameDepth:   depth,
		FrameBytes:   locals,
		OperandBytes: operand,
		HeapUsed:     e.hp.Used(),
		HeapCapacity: e.hp.Capacity(),
		LiveHandles:  e.hp.LiveHandles(),
		Collections:  e.hp.Collections(),
	}
	for k := range e.installed {
		if v := e.installed[k].Load(); v != 0 {
			if s.InstallsByKind == nil {
				s.InstallsByKind = make(map[string]int64)
			}
			s.InstallsByKind[ast.PropKind(k).String()] = v
		}
	}
	return s
}
