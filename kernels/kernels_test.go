package kernels

import (
	"errors"
	"testing"

	"github.com/sbl8/staticgraph/core"
	"github.com/sbl8/staticgraph/model"
)

func TestQuantizeMultiplier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		real  float64
		mult  int32
		shift int
	}{
		{0, 0, 0},
		{1.0, 1 << 30, 1},
		{0.5, 1 << 30, 0},
		{0.25, 1 << 30, -1},
	}
	for _, tt := range tests {
		m, s := QuantizeMultiplier(tt.real)
		if m != tt.mult || s != tt.shift {
			t.Errorf("QuantizeMultiplier(%v) = (%d, %d), want (%d, %d)", tt.real, m, s, tt.mult, tt.shift)
		}
	}
}

func TestMultiplyByQuantizedMultiplier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		x, want int32
		real    float64
	}{
		{13, 13, 1.0},
		{-3, -3, 1.0},
		{100, 50, 0.5},
		{100, 25, 0.25},
		{5, 3, 0.5}, // ties round upward
		{-5, -2, 0.5},
	}
	for _, tt := range tests {
		m, s := QuantizeMultiplier(tt.real)
		if got := MultiplyByQuantizedMultiplier(tt.x, m, s); got != tt.want {
			t.Errorf("%d * %v = %d, want %d", tt.x, tt.real, got, tt.want)
		}
	}
}

func TestComputePadding(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, filter, stride int
		padding            model.Padding
		out, pad           int
	}{
		{49, 3, 1, model.PaddingSame, 49, 1},
		{4, 2, 2, model.PaddingSame, 2, 0},
		{5, 2, 2, model.PaddingSame, 3, 0},
		{5, 3, 1, model.PaddingValid, 3, 0},
		{3, 3, 1, model.PaddingSame, 3, 1},
	}
	for _, tt := range tests {
		out, pad := computePadding(tt.in, tt.filter, tt.stride, 1, tt.padding)
		if out != tt.out || pad != tt.pad {
			t.Errorf("computePadding(%d, %d, %d, %v) = (%d, %d), want (%d, %d)",
				tt.in, tt.filter, tt.stride, tt.padding, out, pad, tt.out, tt.pad)
		}
	}
}

func TestActivationRange(t *testing.T) {
	t.Parallel()
	if lo, hi := activationRange(model.ActNone, 1, 0); lo != -128 || hi != 127 {
		t.Errorf("none = (%d, %d)", lo, hi)
	}
	if lo, hi := activationRange(model.ActRelu, 0.5, -10); lo != -10 || hi != 127 {
		t.Errorf("relu = (%d, %d)", lo, hi)
	}
	if lo, hi := activationRange(model.ActRelu6, 0.1, 0); lo != 0 || hi != 60 {
		t.Errorf("relu6 = (%d, %d)", lo, hi)
	}
}

func TestReshape(t *testing.T) {
	t.Parallel()
	ctx := &fakeContext{tensors: []*core.Tensor{
		quantized("in", core.Shape{1, 4}, 1, 0, []int8{1, 2, 3, 4}),
		int32Tensor("shape", []int32{-1, 2}),
		quantized("out", core.Shape{2, 2}, 1, 0, nil),
	}}
	if _, err := run(t, Reshape{}, &model.ReshapeParams{}, ctx, 0, 1); err != nil {
		t.Fatalf("reshape: %v", err)
	}
	checkInt8s(t, ctx.tensors[2], []int8{1, 2, 3, 4})

	bad := &fakeContext{tensors: []*core.Tensor{
		quantized("in", core.Shape{1, 4}, 1, 0, nil),
		quantized("out", core.Shape{1, 3}, 1, 0, nil),
	}}
	if _, err := run(t, Reshape{}, &model.ReshapeParams{}, bad, 0); !errors.Is(err, ErrShape) {
		t.Errorf("reshape 4 -> 3 elements = %v, want ErrShape", err)
	}
}

func TestReshapeInPlace(t *testing.T) {
	t.Parallel()
	in := quantized("in", core.Shape{4}, 1, 0, []int8{9, 8, 7, 6})
	out := *in
	out.Name, out.Shape = "out", core.Shape{2, 2}
	ctx := &fakeContext{tensors: []*core.Tensor{in, &out}}
	if _, err := run(t, Reshape{}, &model.ReshapeParams{Shape: []int{2, -1}}, ctx, 0); err != nil {
		t.Fatalf("reshape: %v", err)
	}
	checkInt8s(t, &out, []int8{9, 8, 7, 6})
}

func TestCheckTargetShape(t *testing.T) {
	t.Parallel()
	if err := checkTargetShape([]int{-1, 208}, 208); err != nil {
		t.Errorf("{-1, 208}: %v", err)
	}
	if err := checkTargetShape([]int{-1, 3}, 208); err == nil {
		t.Error("{-1, 3} should not divide 208")
	}
	if err := checkTargetShape([]int{-1, -1}, 4); err == nil {
		t.Error("two wildcards should be rejected")
	}
}

func TestConv2D(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		filter []int8
		bias   []int32
		act    model.Activation
		want   []int8
	}{
		{"sum with bias", []int8{1, 1, 1}, []int32{10}, model.ActNone, []int8{13, 16, 15}},
		{"negative relu", []int8{-1, -1, -1}, []int32{0}, model.ActRelu, []int8{0, 0, 0}},
		{"negative", []int8{-1, -1, -1}, []int32{0}, model.ActNone, []int8{-3, -6, -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := &fakeContext{tensors: []*core.Tensor{
				quantized("in", core.Shape{1, 1, 3, 1}, 1, 0, []int8{1, 2, 3}),
				quantized("filter", core.Shape{1, 1, 3, 1}, 1, 0, tt.filter),
				int32Tensor("bias", tt.bias),
				quantized("out", core.Shape{1, 1, 3, 1}, 1, 0, nil),
			}}
			params := &model.ConvParams{StrideW: 1, StrideH: 1, DilationW: 1, DilationH: 1, Activation: tt.act}
			if _, err := run(t, Conv2D{}, params, ctx, 0, 1, 2); err != nil {
				t.Fatalf("conv2d: %v", err)
			}
			checkInt8s(t, ctx.tensors[3], tt.want)
			if ctx.persistent != 8 {
				t.Errorf("persistent bytes = %d, want 8", ctx.persistent)
			}
			if len(ctx.scratch) != 1 || len(ctx.scratch[0])%(4*LaneWidth()) != 0 {
				t.Errorf("scratch buffers = %d", len(ctx.scratch))
			}
		})
	}
}

func TestConv2DWithoutBias(t *testing.T) {
	t.Parallel()
	ctx := &fakeContext{tensors: []*core.Tensor{
		quantized("in", core.Shape{1, 1, 3, 1}, 1, 1, []int8{1, 2, 3}),
		quantized("filter", core.Shape{1, 1, 3, 1}, 1, 0, []int8{1, 1, 1}),
		quantized("out", core.Shape{1, 1, 3, 1}, 1, 0, nil),
	}}
	if _, err := run(t, Conv2D{}, &model.ConvParams{StrideW: 1, StrideH: 1}, ctx, 0, 1, model.NoTensor); err != nil {
		t.Fatalf("conv2d: %v", err)
	}
	// Input zero point 1 shifts every real value down by one.
	checkInt8s(t, ctx.tensors[2], []int8{1, 3, 3})
}

func TestConv2DRejectsBadShapes(t *testing.T) {
	t.Parallel()
	ctx := &fakeContext{tensors: []*core.Tensor{
		quantized("in", core.Shape{1, 1, 3, 2}, 1, 0, nil),
		quantized("filter", core.Shape{1, 1, 3, 1}, 1, 0, nil),
		quantized("out", core.Shape{1, 1, 3, 1}, 1, 0, nil),
	}}
	if _, err := run(t, Conv2D{}, &model.ConvParams{StrideW: 1, StrideH: 1}, ctx, 0, 1); !errors.Is(err, ErrShape) {
		t.Errorf("depth mismatch = %v, want ErrShape", err)
	}
}

func TestAdd(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		shapeA      core.Shape
		a           []int8
		shapeB      core.Shape
		b           []int8
		out         core.Shape
		act         model.Activation
		want        []int8
		wantPrepErr bool
	}{
		{"same shape", core.Shape{3}, []int8{1, 2, 3}, core.Shape{3}, []int8{4, 5, 6}, core.Shape{3}, model.ActNone, []int8{5, 7, 9}, false},
		{"broadcast", core.Shape{1, 2, 2}, []int8{1, 2, 3, 4}, core.Shape{2}, []int8{10, 20}, core.Shape{1, 2, 2}, model.ActNone, []int8{11, 22, 13, 24}, false},
		{"saturate", core.Shape{1}, []int8{100}, core.Shape{1}, []int8{100}, core.Shape{1}, model.ActNone, []int8{127}, false},
		{"relu", core.Shape{2}, []int8{-5, 5}, core.Shape{2}, []int8{1, 1}, core.Shape{2}, model.ActRelu, []int8{0, 6}, false},
		{"incompatible", core.Shape{3}, nil, core.Shape{2}, nil, core.Shape{3}, model.ActNone, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := &fakeContext{tensors: []*core.Tensor{
				quantized("a", tt.shapeA, 1, 0, tt.a),
				quantized("b", tt.shapeB, 1, 0, tt.b),
				quantized("out", tt.out, 1, 0, nil),
			}}
			_, err := run(t, Add{}, &model.AddParams{Activation: tt.act}, ctx, 0, 1)
			if tt.wantPrepErr {
				if !errors.Is(err, ErrShape) {
					t.Errorf("err = %v, want ErrShape", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			checkInt8s(t, ctx.tensors[2], tt.want)
		})
	}
}

func TestMaxPool2D(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []int8
		outH int
		want []int8
	}{
		{"even", []int8{1, 5, -3, 2}, 2, []int8{5, 2}},
		{"clipped tail", []int8{1, 5, -3, 2, -7}, 3, []int8{5, 2, -7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := &fakeContext{tensors: []*core.Tensor{
				quantized("in", core.Shape{1, len(tt.in), 1, 1}, 1, 0, tt.in),
				quantized("out", core.Shape{1, tt.outH, 1, 1}, 1, 0, nil),
			}}
			params := &model.PoolParams{StrideW: 1, StrideH: 2, FilterW: 1, FilterH: 2}
			if _, err := run(t, MaxPool2D{}, params, ctx, 0); err != nil {
				t.Fatalf("max_pool2d: %v", err)
			}
			checkInt8s(t, ctx.tensors[1], tt.want)
		})
	}
}

func TestMaxPool2DRejectsEmptyFilter(t *testing.T) {
	t.Parallel()
	if _, err := (MaxPool2D{}).Init(&fakeContext{}, &model.PoolParams{FilterW: 0, FilterH: 2}); err == nil {
		t.Error("expected error for zero-width filter")
	}
}

func TestFullyConnected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		inputZP int32
		want    []int8
	}{
		{"symmetric", 0, []int8{10, 8}},
		{"input zero point", 1, []int8{6, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := &fakeContext{tensors: []*core.Tensor{
				quantized("in", core.Shape{1, 4}, 1, tt.inputZP, []int8{1, 2, 3, 4}),
				quantized("weights", core.Shape{2, 4}, 1, 0, []int8{1, 1, 1, 1, -1, 0, 0, 1}),
				int32Tensor("bias", []int32{0, 5}),
				quantized("out", core.Shape{1, 2}, 1, 0, nil),
			}}
			if _, err := run(t, FullyConnected{}, &model.FullyConnectedParams{}, ctx, 0, 1, 2); err != nil {
				t.Fatalf("fully_connected: %v", err)
			}
			checkInt8s(t, ctx.tensors[3], tt.want)
			if ctx.persistent != 8 {
				t.Errorf("persistent bytes = %d, want 8", ctx.persistent)
			}
		})
	}
}

func TestSoftmax(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []int8
		want []int8
	}{
		{"uniform", []int8{0, 0}, []int8{0, 0}},
		{"dominant", []int8{10, -100}, []int8{127, -128}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := &fakeContext{tensors: []*core.Tensor{
				quantized("in", core.Shape{1, 2}, 0.25, 0, tt.in),
				quantized("out", core.Shape{1, 2}, 1.0/256, -128, nil),
			}}
			if _, err := run(t, Softmax{}, &model.SoftmaxParams{Beta: 1}, ctx, 0); err != nil {
				t.Fatalf("softmax: %v", err)
			}
			checkInt8s(t, ctx.tensors[1], tt.want)
			if ctx.persistent != 4*lutSize {
				t.Errorf("persistent bytes = %d, want %d", ctx.persistent, 4*lutSize)
			}
		})
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	t.Parallel()
	ctx := &fakeContext{tensors: []*core.Tensor{
		quantized("in", core.Shape{2, 4}, 0.1, 3, []int8{-20, 5, 17, 40, 0, 0, -1, 1}),
		quantized("out", core.Shape{2, 4}, 1.0/256, -128, nil),
	}}
	if _, err := run(t, Softmax{}, &model.SoftmaxParams{Beta: 1}, ctx, 0); err != nil {
		t.Fatalf("softmax: %v", err)
	}
	out := ctx.tensors[1].Int8s()
	for r := 0; r < 2; r++ {
		sum := 0
		for _, q := range out[r*4 : (r+1)*4] {
			sum += int(q) + 128
		}
		if sum < 252 || sum > 260 {
			t.Errorf("row %d sums to %d/256", r, sum)
		}
	}
}

func TestInvokeWithoutInit(t *testing.T) {
	t.Parallel()
	n := &Node{Op: model.OpSoftmax}
	if err := (Softmax{}).Invoke(&fakeContext{}, n); err == nil {
		t.Error("expected error for missing kernel state")
	}
}

func TestInitRejectsForeignParams(t *testing.T) {
	t.Parallel()
	if _, err := (Conv2D{}).Init(&fakeContext{}, &model.SoftmaxParams{}); err == nil {
		t.Error("expected error for mismatched params")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := DefaultRegistry()
	if got := len(r.Ops()); got != 6 {
		t.Errorf("DefaultRegistry has %d ops, want 6", got)
	}
	if err := r.Register(model.OpAdd, Add{}); err == nil {
		t.Error("expected duplicate registration error")
	}
	if _, ok := NewRegistry().Lookup(model.OpAdd); ok {
		t.Error("empty registry should not resolve add")
	}
	if k, ok := r.Lookup(model.OpSoftmax); !ok || k == nil {
		t.Error("softmax not registered")
	}
}

func TestLaneWidth(t *testing.T) {
	t.Parallel()
	w := LaneWidth()
	if w < 4 || w&(w-1) != 0 {
		t.Errorf("LaneWidth() = %d", w)
	}
	if got := padToLanes(w + 1); got != 2*w {
		t.Errorf("padToLanes(%d) = %d", w+1, got)
	}
	if DescribeCPU().LaneWidth != w {
		t.Error("DescribeCPU lane width disagrees")
	}
}

func BenchmarkConv2D(b *testing.B) {
	input := make([]int8, 49*13)
	for i := range input {
		input[i] = int8(i%17 - 8)
	}
	filter := make([]int8, 8*3*13)
	for i := range filter {
		filter[i] = int8(i%7 - 3)
	}
	ctx := &fakeContext{tensors: []*core.Tensor{
		quantized("in", core.Shape{1, 1, 49, 13}, 0.5, -3, input),
		quantized("filter", core.Shape{8, 1, 3, 13}, 0.01, 0, filter),
		quantized("out", core.Shape{1, 1, 49, 8}, 0.2, 5, nil),
	}}
	n, err := run(b, Conv2D{}, &model.ConvParams{StrideW: 1, StrideH: 1, DilationW: 1, DilationH: 1}, ctx, 0, 1)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := (Conv2D{}).Invoke(ctx, n); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFullyConnected(b *testing.B) {
	weights := make([]int8, 2*208)
	for i := range weights {
		weights[i] = int8(i%11 - 5)
	}
	ctx := &fakeContext{tensors: []*core.Tensor{
		quantized("in", core.Shape{1, 208}, 0.5, -128, nil),
		quantized("weights", core.Shape{2, 208}, 0.01, 0, weights),
		quantized("out", core.Shape{1, 2}, 0.1, 0, nil),
	}}
	n, err := run(b, FullyConnected{}, &model.FullyConnectedParams{}, ctx, 0, 1)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := (FullyConnected{}).Invoke(ctx, n); err != nil {
			b.Fatal(err)
		}
	}
}
