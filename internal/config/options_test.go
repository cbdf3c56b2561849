package config

import (
	"strings"
	"testing"
)

func TestParseFillsDefaults(t *testing.T) {
	opts, err := Parse([]byte("heap_bytes: 8192\n"))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if opts.HeapBytes != 8192 {
		t.Errorf("HeapBytes = %d, want 8192", opts.HeapBytes)
	}
	if opts.FrameStackBytes != DefaultFrameStackBytes {
		t.Errorf("FrameStackBytes = %d, want default %d", opts.FrameStackBytes, DefaultFrameStackBytes)
	}
	if opts.MaxEvalDepth != MaxEvalDepth {
		t.Errorf("MaxEvalDepth = %d, want default %d", opts.MaxEvalDepth, MaxEvalDepth)
	}
}

func TestParseRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"tiny frame stack", "frame_stack_bytes: 16\n", "frame_stack_bytes"},
		{"tiny heap", "heap_bytes: 1\n", "heap_bytes"},
		{"threshold over 100", "gc_threshold_percent: 140\n", "gc_threshold_percent"},
		{"malformed yaml", "heap_bytes: [\n", "parsing options"},
		{"unknown key", "heap_byte: 8192\n", "parsing options"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error containing %q", tt.input, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default options failed validation: %v", err)
	}
}
