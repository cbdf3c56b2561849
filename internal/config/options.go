package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Options carries per-engine tuning. Zero fields fall back to the compiled
// defaults, so a partial YAML file only overrides what it names.
type Options struct {
	FrameStackBytes   int    `yaml:"frame_stack_bytes"`
	OperandStackBytes int    `yaml:"operand_stack_bytes"`
	HeapBytes         int    `yaml:"heap_bytes"`
	MaxHandles        int    `yaml:"max_handles"`
	MaxEvalDepth      int    `yaml:"max_eval_depth"`
	GCThreshold       int    `yaml:"gc_threshold_percent"`
	MaxParBranches    int    `yaml:"max_par_branches"`
	TraceLevel        string `yaml:"trace_level"`
}

// Default returns the compiled-in engine tuning.
func Default() Options {
	return Options{
		FrameStackBytes:   DefaultFrameStackBytes,
		OperandStackBytes: DefaultOperandStackBytes,
		HeapBytes:         DefaultHeapBytes,
		MaxHandles:        DefaultMaxHandles,
		MaxEvalDepth:      MaxEvalDepth,
		GCThreshold:       GCThresholdPercent,
		MaxParBranches:    MaxParBranches,
	}
}

// Load reads options from a YAML file and fills unset fields from Default.
// Unknown keys are rejected so a typo in a tuning file fails loudly.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("reading options file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML option data. See Load.
func Parse(data []byte) (Options, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var opts Options
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("parsing options: %w", err)
	}
	opts.fillDefaults()
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o *Options) fillDefaults() {
	def := Default()
	if o.FrameStackBytes == 0 {
		o.FrameStackBytes = def.FrameStackBytes
	}
	if o.OperandStackBytes == 0 {
		o.OperandStackBytes = def.OperandStackBytes
	}
	if o.HeapBytes == 0 {
		o.HeapBytes = def.HeapBytes
	}
	if o.MaxHandles == 0 {
		o.MaxHandles = def.MaxHandles
	}
	if o.MaxEvalDepth == 0 {
		o.MaxEvalDepth = def.MaxEvalDepth
	}
	if o.GCThreshold == 0 {
		o.GCThreshold = def.GCThreshold
	}
	if o.MaxParBranches == 0 {
		o.MaxParBranches = def.MaxParBranches
	}
}

// Validate rejects option combinations the engine cannot honor.
func (o Options) Validate() error {
	if o.FrameStackBytes < 4096 {
		return fmt.Errorf("frame_stack_bytes %d too small (minimum 4096)", o.FrameStackBytes)
	}
	if o.OperandStackBytes < 1024 {
		return fmt.Errorf("operand_stack_bytes %d too small (minimum 1024)", o.OperandStackBytes)
	}
	if o.HeapBytes < 4096 {
		return fmt.Errorf("heap_bytes %d too small (minimum 4096)", o.HeapBytes)
	}
	if o.MaxHandles < 16 {
		return fmt.Errorf("max_handles %d too small (minimum 16)", o.MaxHandles)
	}
	if o.GCThreshold < 1 || o.GCThreshold > 100 {
		return fmt.Errorf("gc_threshold_percent %d out of range 1..100", o.GCThreshold)
	}
	return nil
}
