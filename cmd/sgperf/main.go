package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/sbl8/staticgraph/compiler"
	"github.com/sbl8/staticgraph/kernels"
	"github.com/sbl8/staticgraph/model"
	sgruntime "github.com/sbl8/staticgraph/runtime"
)

var (
	modelPath = flag.String("model", "compiler/testdata/keyword.sg", "Model to benchmark, DSL source (.sg) or compiled")
	sessions  = flag.Int("sessions", runtime.NumCPU(), "Number of concurrent sessions")
	iter      = flag.Int("iter", 1000, "Invocations per session")
	arena     = flag.Int("arena", 0, "Override the planned arena size (0 keeps the model's)")
	pooled    = flag.Bool("pool", true, "Recycle arena buffers through a shared pool")
	verbose   = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cpu := kernels.DescribeCPU()
	fmt.Printf("staticgraph Performance Analysis Tool\n")
	fmt.Printf("=====================================\n")
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("CPU: %s (%d cores, L1d %d bytes)\n", cpu.Brand, cpu.Cores, cpu.L1DCache)
	fmt.Printf("Lane width: %d\n", cpu.LaneWidth)
	fmt.Printf("Sessions: %d\n", *sessions)
	fmt.Printf("Iterations: %d\n", *iter)
	fmt.Printf("\n")

	graph, err := loadModel(*modelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading %s: %v\n", *modelPath, err)
		os.Exit(1)
	}
	if *arena > 0 {
		graph.ArenaSize = *arena
	}

	if err := benchmark(context.Background(), graph); err != nil {
		klog.Flush()
		fmt.Fprintf(os.Stderr, "benchmark failed: %v\n", err)
		os.Exit(1)
	}
}

func loadModel(path string) (*model.Graph, error) {
	if strings.HasSuffix(path, ".sg") {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return compiler.Build(src, compiler.DefaultOptions())
	}
	return sgruntime.LoadGraph(path)
}

type result struct {
	initTime time.Duration
	stats    sgruntime.ExecutionStats
}

func benchmark(ctx context.Context, graph *model.Graph) error {
	alloc, free := sgruntime.AllocFunc(sgruntime.HeapAlloc), sgruntime.FreeFunc(nil)
	if *pooled {
		pool := sgruntime.NewBufferPool(*sessions, graph.ArenaSize, max(graph.Alignment, 8))
		alloc, free = pool.Alloc, pool.Free
	}

	results := make([]result, *sessions)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	start := time.Now()
	for i := range results {
		g.Go(func() error {
			r, err := runSession(ctx, graph, alloc, free, int64(i))
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	printResults(results, elapsed)
	return nil
}

func runSession(ctx context.Context, graph *model.Graph, alloc sgruntime.AllocFunc, free sgruntime.FreeFunc, seed int64) (result, error) {
	var r result
	opts := sgruntime.DefaultOptions()
	s, err := sgruntime.NewSession(graph, &opts)
	if err != nil {
		return r, err
	}

	t0 := time.Now()
	if err := s.Init(ctx, alloc); err != nil {
		s.Reset(ctx, free)
		return r, err
	}
	r.initTime = time.Since(t0)
	defer s.Reset(ctx, free)

	in, err := s.Input(0)
	if err != nil {
		return r, err
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Read(in.Data)

	for range *iter {
		if err := s.Invoke(ctx); err != nil {
			return r, err
		}
	}
	r.stats = s.Stats()
	if *verbose {
		fmt.Printf("session %s: %d invocations, avg %v\n", s.ID(), r.stats.Invocations, r.stats.AverageLatency)
	}
	return r, nil
}

func printResults(results []result, elapsed time.Duration) {
	var total int64
	var initTime, latency time.Duration
	for _, r := range results {
		total += r.stats.Invocations
		initTime += r.initTime
		latency += r.stats.TotalLatency
	}
	if total == 0 {
		fmt.Printf("No invocations\n")
		return
	}
	first := results[0].stats

	fmt.Printf("Session Performance\n")
	fmt.Printf("-------------------\n")
	fmt.Printf("Total invocations: %d in %v\n", total, elapsed)
	fmt.Printf("Throughput: %.2f inferences/sec\n", float64(total)/elapsed.Seconds())
	fmt.Printf("Average init: %v\n", initTime/time.Duration(len(results)))
	fmt.Printf("Average latency: %v\n", latency/time.Duration(total))
	fmt.Printf("\n")
	fmt.Printf("Arena Usage\n")
	fmt.Printf("-----------\n")
	fmt.Printf("Capacity: %d bytes\n", first.ArenaCapacity)
	fmt.Printf("Boundary: %d bytes\n", first.ArenaBoundary)
	fmt.Printf("Peak: %d bytes\n", first.ArenaPeak)
	fmt.Printf("Heap overflow: %d buffers, %d bytes\n", first.OverflowCount, first.OverflowBytes)
	fmt.Printf("Scratch buffers: %d\n", first.ScratchBuffers)
}
