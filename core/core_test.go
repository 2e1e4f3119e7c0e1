package core

import (
	"bytes"
	"errors"
	"testing"
)

func TestAlignHelpers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n, align, up, down int
	}{
		{0, 8, 0, 0},
		{1, 8, 8, 0},
		{8, 8, 8, 8},
		{13, 4, 16, 12},
		{1277, 16, 1280, 1264},
		{5, 1, 5, 5},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.n, tt.align); got != tt.up {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.n, tt.align, got, tt.up)
		}
		if got := AlignDown(tt.n, tt.align); got != tt.down {
			t.Errorf("AlignDown(%d, %d) = %d, want %d", tt.n, tt.align, got, tt.down)
		}
	}
}

func TestAlignedBytes(t *testing.T) {
	t.Parallel()
	for _, align := range []int{8, 16, 64} {
		b := AlignedBytes(100, align)
		if len(b) != 100 || cap(b) != 100 {
			t.Errorf("AlignedBytes(100, %d): len %d cap %d", align, len(b), cap(b))
		}
		if !IsAligned(b, align) {
			t.Errorf("AlignedBytes(100, %d) is not aligned", align)
		}
	}
	if AlignedBytes(0, 16) != nil {
		t.Error("AlignedBytes(0) should be nil")
	}
}

func TestElementType(t *testing.T) {
	t.Parallel()
	for _, typ := range []ElementType{Int8, UInt8, Int16, Int32, Float32} {
		parsed, err := ParseElementType(typ.String())
		if err != nil {
			t.Fatalf("ParseElementType(%q): %v", typ, err)
		}
		if parsed != typ {
			t.Errorf("ParseElementType(%q) = %v", typ, parsed)
		}
	}
	if _, err := ParseElementType("complex64"); err == nil {
		t.Error("expected error for unknown type")
	}
	if ElementType(0).Valid() {
		t.Error("zero ElementType should be invalid")
	}
}

func TestQuantizationValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		q       *Quantization
		wantErr bool
	}{
		{"nil", nil, false},
		{"per tensor", &Quantization{Scale: []float32{0.5}, ZeroPoint: []int32{-4}}, false},
		{"per channel", &Quantization{Scale: []float32{0.1, 0.2}, ZeroPoint: []int32{0, 0}, Dimension: 0}, false},
		{"mismatched", &Quantization{Scale: []float32{0.1, 0.2}, ZeroPoint: []int32{0}}, true},
		{"empty", &Quantization{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuantizationFirst(t *testing.T) {
	t.Parallel()
	q := &Quantization{Scale: []float32{0.25, 0.5}, ZeroPoint: []int32{3, 7}}
	if got := q.First(); got.Scale != 0.25 || got.ZeroPoint != 3 {
		t.Errorf("First() = %+v", got)
	}
	if got := q.Channel(1); got.Scale != 0.5 || got.ZeroPoint != 7 {
		t.Errorf("Channel(1) = %+v", got)
	}
	if !q.PerChannel() {
		t.Error("expected per-channel")
	}
}

func TestTensorViews(t *testing.T) {
	t.Parallel()
	data := AlignedBytes(8, 8)
	data[0] = 0xFF // -1 as int8
	tensor := &Tensor{Name: "x", Type: Int8, Shape: Shape{2, 4}, Bytes: 8, Data: data}

	v := tensor.Int8s()
	if len(v) != 8 || v[0] != -1 {
		t.Errorf("Int8s() = %v", v)
	}
	if tensor.Int32s() != nil {
		t.Error("Int32s() on an int8 tensor should be nil")
	}

	tensor.Type = Int32
	if got := len(tensor.Int32s()); got != 2 {
		t.Errorf("Int32s() length = %d, want 2", got)
	}
}

func TestTensorDequantize(t *testing.T) {
	t.Parallel()
	q := &Quantization{Scale: []float32{0.5}, ZeroPoint: []int32{-2}}
	tensor := &Tensor{Type: Int8, Shape: Shape{3}, Bytes: 3, Data: []byte{0, 2, 0xFE}, Quant: q, Params: q.First()}

	got, err := tensor.Dequantize()
	if err != nil {
		t.Fatalf("Dequantize: %v", err)
	}
	want := []float32{1, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Dequantize()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	short := &Tensor{Type: Int8, Shape: Shape{4}, Bytes: 4, Data: []byte{1}}
	if _, err := short.Dequantize(); err == nil {
		t.Error("expected error for short data")
	}
}

func TestTensorValidate(t *testing.T) {
	t.Parallel()
	ok := &Tensor{Name: "ok", Type: Int8, Shape: Shape{1, 637}, Bytes: 637}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	small := &Tensor{Name: "small", Type: Int32, Shape: Shape{4}, Bytes: 8}
	if err := small.Validate(); err == nil {
		t.Error("expected error for undersized tensor")
	}
	neg := &Tensor{Name: "neg", Type: Int8, Shape: Shape{-1}, Bytes: 0}
	if err := neg.Validate(); err == nil {
		t.Error("expected error for negative dimension")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.Text("conv")
	enc.Shape(Shape{8, 1, 3, 13})
	enc.Quantization(&Quantization{Scale: []float32{0.5, 0.25}, ZeroPoint: []int32{0, 1}, Dimension: 0})
	enc.Quantization(nil)
	if err := enc.Err(); err != nil {
		t.Fatalf("encode: %v", err)
	}

	framed := FrameWithHeader(0x314D4753, 1, buf.Bytes())
	h, body, err := ParseHeader(framed, 0x314D4753)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Version != 1 || int(h.Length) != buf.Len() {
		t.Errorf("header = %+v", h)
	}

	dec := NewDecoder(body)
	if name := dec.Text(); name != "conv" {
		t.Errorf("name = %q", name)
	}
	if shape := dec.Shape(); !shape.Equal(Shape{8, 1, 3, 13}) {
		t.Errorf("shape = %v", shape)
	}
	q := dec.Quantization()
	if q == nil || len(q.Scale) != 2 || q.ZeroPoint[1] != 1 {
		t.Errorf("quantization = %+v", q)
	}
	if dec.Quantization() != nil {
		t.Error("expected nil quantization")
	}
	if err := dec.Err(); err != nil {
		t.Errorf("decode: %v", err)
	}

	framed[len(framed)-1] ^= 0xFF
	if _, _, err := ParseHeader(framed, 0x314D4753); !errors.Is(err, ErrCorrupted) {
		t.Errorf("expected ErrCorrupted, got %v", err)
	}
	if _, _, err := ParseHeader(framed, 0x12345678); !errors.Is(err, ErrBadMagic) {
		t.Errorf("expected ErrBadMagic, got %v", err)
	}
}

func TestDecoderRejectsOversizedLength(t *testing.T) {
	t.Parallel()
	dec := NewDecoder([]byte{0xFF, 0xFF, 0x00, 0x00})
	if b := dec.Bytes(); b != nil {
		t.Errorf("Bytes() = %v", b)
	}
	if !errors.Is(dec.Err(), ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", dec.Err())
	}
}

func BenchmarkTensorDequantize(b *testing.B) {
	q := &Quantization{Scale: []float32{0.05}, ZeroPoint: []int32{-4}}
	tensor := &Tensor{Type: Int8, Shape: Shape{1, 637}, Bytes: 637, Data: make([]byte, 637), Quant: q, Params: q.First()}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = tensor.Dequantize()
	}
}
