package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"

	"k8s.io/klog/v2"

	"github.com/sbl8/staticgraph/blobs"
	sgruntime "github.com/sbl8/staticgraph/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx)
	stop()
	klog.Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		repeat   = flag.Int("repeat", 1, "Number of invocations on the same input")
		maxHeap  = flag.Int("max-overflow", 0, "Cap on heap fallback bytes (0 is unlimited)")
		verbose  = flag.Bool("verbose", false, "Print arena and latency statistics")
		version  = flag.Bool("version", false, "Show version information")
		download = flag.String("download", "", "Copy the model to this path before running")
	)
	klog.InitFlags(nil)
	flag.Parse()

	if *version {
		fmt.Println("sgrun - staticgraph runtime v1.0.0")
		fmt.Printf("Built with Go %s\n", runtime.Version())
		return nil
	}

	args := flag.Args()
	location := os.Getenv("STATICGRAPH_MODEL")
	if len(args) > 0 {
		location, args = args[0], args[1:]
	}
	if location == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <model.sgm|gs://...|https://...> [input]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	log := klog.FromContext(ctx)

	if *download != "" {
		if err := blobs.Download(ctx, location, *download); err != nil {
			return fmt.Errorf("downloading model: %w", err)
		}
		location = *download
	}

	src, err := blobs.Open(ctx, location)
	if err != nil {
		return fmt.Errorf("opening model %q: %w", location, err)
	}
	graph, err := sgruntime.ReadGraph(src)
	src.Close()
	if err != nil {
		return fmt.Errorf("loading model %q: %w", location, err)
	}
	log.V(1).Info("Loaded model", "name", graph.Name, "tensors", len(graph.Tensors), "nodes", len(graph.Nodes), "arenaSize", graph.ArenaSize)

	opts := sgruntime.DefaultOptions()
	opts.MaxOverflowBytes = *maxHeap
	session, err := sgruntime.NewSession(graph, &opts)
	if err != nil {
		return err
	}
	if err := session.Init(ctx, sgruntime.HeapAlloc); err != nil {
		session.Reset(ctx, nil)
		return err
	}
	defer session.Reset(ctx, nil)

	inputData, err := readInput(args)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	in, err := session.Input(0)
	if err != nil {
		return err
	}
	if len(inputData) != len(in.Data) {
		return fmt.Errorf("input %q wants %d bytes, got %d", in.Name, len(in.Data), len(inputData))
	}
	copy(in.Data, inputData)

	for i := 0; i < *repeat; i++ {
		if err := session.Invoke(ctx); err != nil {
			return err
		}
	}

	for slot := range graph.Outputs {
		out, err := session.Output(slot)
		if err != nil {
			return err
		}
		values, err := out.Dequantize()
		if err != nil {
			return err
		}
		fmt.Printf("%s %v\n", out.Name, values)
	}

	if *verbose {
		printStats(session.Stats())
	}
	return nil
}

// readInput reads raw tensor bytes from the first argument or stdin.
func readInput(args []string) ([]byte, error) {
	if len(args) > 0 {
		return os.ReadFile(args[0])
	}
	return io.ReadAll(bufio.NewReader(os.Stdin))
}

func printStats(stats sgruntime.ExecutionStats) {
	fmt.Printf("\nExecution Statistics:\n")
	fmt.Printf("  Invocations: %d (failed %d)\n", stats.Invocations, stats.Failures)
	fmt.Printf("  Average latency: %v\n", stats.AverageLatency)
	fmt.Printf("  Arena: capacity %d, boundary %d, peak %d\n", stats.ArenaCapacity, stats.ArenaBoundary, stats.ArenaPeak)
	fmt.Printf("  Heap overflow: %d buffers, %d bytes\n", stats.OverflowCount, stats.OverflowBytes)
	fmt.Printf("  Scratch buffers: %d\n", stats.ScratchBuffers)
	for op, n := range stats.OpInvocations {
		fmt.Printf("  %-16s %d\n", op, n)
	}
}
