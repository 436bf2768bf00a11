package mfc

// CompilerConfig controls the pipeline's optional stages. It extends
// the teacher grammar compiler's CompilerConfig with the knobs
// SPEC_FULL.md's ambient stack calls for: optimization level, verbose
// pipeline logging, and the output executable's path.
type CompilerConfig struct {
	// Optimize switches the optimizer on or off: any value above 0 runs
	// optimize.go's fold/CSE/DCE passes for up to maxOptimizeIterations
	// rounds, whatever the value; 0 disables them entirely and every
	// function is register-allocated and selected straight from
	// ir_gen.go's output.
	Optimize int

	// Verbose logs one line per compilation (file name and run ID) via
	// the stdlib log package; the individual stages are not logged.
	Verbose bool

	// OutputPath is the destination .exe path. Compile does not read
	// it and always returns the image bytes; cmd/mfc writes them to
	// its own -output path.
	OutputPath string
}

// DefaultConfig matches the CLI's defaults (cmd/mfc/main.go).
func DefaultConfig() CompilerConfig {
	return CompilerConfig{Optimize: maxOptimizeIterations}
}
