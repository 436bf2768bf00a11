package main

import (
	"flag"
	"log"
	"os"

	mfc "github.com/mf-lang/mfc"
)

const defaultWritePermission = 0644 // -rw-r--r--

func main() {
	var (
		sourcePath = flag.String("input", "", "Path to the .mf source file")
		outputPath = flag.String("output", "a.exe", "Path to the output PE32+ executable")
		optimize   = flag.Int("optimize", mfc.DefaultConfig().Optimize, "Run the optimizer when above 0 (0 disables optimization)")
		verbose    = flag.Bool("verbose", false, "Log one line per compilation")
	)
	flag.Parse()

	if *sourcePath == "" {
		log.Fatal("Source file not informed")
	}

	src, err := os.ReadFile(*sourcePath)
	if err != nil {
		log.Fatalf("Can't read source file: %s", err.Error())
	}

	config := mfc.CompilerConfig{Optimize: *optimize, Verbose: *verbose, OutputPath: *outputPath}
	image, diags, err := mfc.Compile(*sourcePath, src, config)
	for _, d := range diagsOrEmpty(diags) {
		log.Println(d.String())
	}
	if err != nil {
		log.Fatalf("Compile failed: %s", err.Error())
	}

	if err := os.WriteFile(*outputPath, image, defaultWritePermission); err != nil {
		log.Fatalf("Can't write output file: %s", err.Error())
	}
}

func diagsOrEmpty(d *mfc.Diagnostics) []mfc.Diagnostic {
	if d == nil {
		return nil
	}
	return d.All()
}
