package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"k8s.io/klog/v2"

	"github.com/sbl8/staticgraph/compiler"
)

func main() {
	var (
		optimize = flag.Bool("O", true, "Reorder nodes topologically when needed")
		validate = flag.Bool("validate", true, "Validate graph structure, ordering and aliasing")
		align    = flag.Int("align", 0, "Tensor offset alignment (0 keeps the source value)")
		gob      = flag.Bool("gob", false, "Emit the gob encoding instead of the binary format")
		version  = flag.Bool("version", false, "Show version information")
	)
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *version {
		fmt.Println("sgc - staticgraph compiler v1.0.0")
		fmt.Println("Built with Go", runtime.Version())
		return
	}

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <src.sg> <out.sgm>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	srcFile, outFile := args[0], args[1]

	opts := compiler.CompileOptions{
		Optimize:  *optimize,
		Validate:  *validate,
		Alignment: *align,
		Gob:       *gob,
	}

	if err := compiler.CompileWithOptions(srcFile, outFile, opts); err != nil {
		klog.Flush()
		fmt.Fprintf(os.Stderr, "compilation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully compiled %s -> %s\n", srcFile, outFile)
}
