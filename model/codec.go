package model

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/sbl8/staticgraph/core"
)

const (
	// Magic identifies a serialized graph ("SGM1" little-endian).
	Magic   uint32 = 0x314D4753
	Version uint16 = 1
)

func init() {
	gob.Register(&ReshapeParams{})
	gob.Register(&ConvParams{})
	gob.Register(&AddParams{})
	gob.Register(&PoolParams{})
	gob.Register(&FullyConnectedParams{})
	gob.Register(&SoftmaxParams{})
}

// Serialize encodes the graph into the framed binary format.
func (g *Graph) Serialize() ([]byte, error) {
	var body bytes.Buffer
	enc := core.NewEncoder(&body)

	enc.Text(g.Name)
	enc.Uint32(uint32(g.ArenaSize))
	enc.Uint32(uint32(g.Alignment))

	enc.Uint32(uint32(len(g.Tensors)))
	for i := range g.Tensors {
		t := &g.Tensors[i]
		enc.Text(t.Name)
		enc.Uint8(uint8(t.Type))
		enc.Uint8(uint8(t.Kind))
		enc.Shape(t.Shape)
		enc.Uint32(uint32(t.Bytes))
		enc.Int32(int32(t.Offset))
		enc.Bytes(t.Data)
		enc.Quantization(t.Quant)
	}

	enc.Uint32(uint32(len(g.Nodes)))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		enc.Uint8(uint8(n.Op))
		enc.Ints(n.Inputs)
		enc.Ints(n.Outputs)
		if err := encodeParams(enc, n.Op, n.Params); err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
	}

	enc.Ints(g.Inputs)
	enc.Ints(g.Outputs)
	if err := enc.Err(); err != nil {
		return nil, err
	}
	return core.FrameWithHeader(Magic, Version, body.Bytes()), nil
}

// Deserialize reads a graph written by Serialize.
func Deserialize(data []byte) (*Graph, error) {
	h, body, err := core.ParseHeader(data, Magic)
	if err != nil {
		return nil, err
	}
	if h.Version != Version {
		return nil, fmt.Errorf("unsupported version: %d", h.Version)
	}

	dec := core.NewDecoder(body)
	g := &Graph{}
	g.Name = dec.Text()
	g.ArenaSize = int(dec.Uint32())
	g.Alignment = int(dec.Uint32())

	// Every tensor record needs at least 23 bytes.
	nt := int(dec.Uint32())
	if nt*23 > dec.Remaining() {
		return nil, fmt.Errorf("%w: %d tensors in %d bytes", core.ErrTruncated, nt, dec.Remaining())
	}
	g.Tensors = make([]TensorSpec, nt)
	for i := range g.Tensors {
		t := &g.Tensors[i]
		t.Name = dec.Text()
		t.Type = core.ElementType(dec.Uint8())
		t.Kind = core.AllocationKind(dec.Uint8())
		t.Shape = dec.Shape()
		t.Bytes = int(dec.Uint32())
		t.Offset = int(dec.Int32())
		t.Data = dec.Bytes()
		t.Quant = dec.Quantization()
	}

	nn := int(dec.Uint32())
	if nn*9 > dec.Remaining() {
		return nil, fmt.Errorf("%w: %d nodes in %d bytes", core.ErrTruncated, nn, dec.Remaining())
	}
	g.Nodes = make([]NodeSpec, nn)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		n.Op = OpKind(dec.Uint8())
		n.Inputs = dec.Ints()
		n.Outputs = dec.Ints()
		if dec.Err() != nil {
			break
		}
		p, err := decodeParams(dec, n.Op)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		n.Params = p
	}

	g.Inputs = dec.Ints()
	g.Outputs = dec.Ints()
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return g, nil
}

func encodeParams(enc *core.Encoder, op OpKind, params Params) error {
	switch p := params.(type) {
	case *ReshapeParams:
		enc.Ints(p.Shape)
	case *ConvParams:
		enc.Uint8(uint8(p.Padding))
		enc.Uint8(uint8(p.Activation))
		enc.Uint32(uint32(p.StrideW))
		enc.Uint32(uint32(p.StrideH))
		enc.Uint32(uint32(p.DilationW))
		enc.Uint32(uint32(p.DilationH))
	case *AddParams:
		enc.Uint8(uint8(p.Activation))
	case *PoolParams:
		enc.Uint8(uint8(p.Padding))
		enc.Uint8(uint8(p.Activation))
		enc.Uint32(uint32(p.StrideW))
		enc.Uint32(uint32(p.StrideH))
		enc.Uint32(uint32(p.FilterW))
		enc.Uint32(uint32(p.FilterH))
	case *FullyConnectedParams:
		enc.Uint8(uint8(p.Activation))
		enc.Bool(p.KeepNumDims)
	case *SoftmaxParams:
		enc.Float32(p.Beta)
	default:
		return fmt.Errorf("cannot encode parameters %T for %v", params, op)
	}
	if params.Kind() != op {
		return fmt.Errorf("parameters for %v attached to %v", params.Kind(), op)
	}
	return nil
}

func decodeParams(dec *core.Decoder, op OpKind) (Params, error) {
	switch op {
	case OpReshape:
		return &ReshapeParams{Shape: dec.Ints()}, nil
	case OpConv2D:
		p := &ConvParams{Padding: Padding(dec.Uint8()), Activation: Activation(dec.Uint8())}
		p.StrideW = int(dec.Uint32())
		p.StrideH = int(dec.Uint32())
		p.DilationW = int(dec.Uint32())
		p.DilationH = int(dec.Uint32())
		return p, nil
	case OpAdd:
		return &AddParams{Activation: Activation(dec.Uint8())}, nil
	case OpMaxPool2D:
		p := &PoolParams{Padding: Padding(dec.Uint8()), Activation: Activation(dec.Uint8())}
		p.StrideW = int(dec.Uint32())
		p.StrideH = int(dec.Uint32())
		p.FilterW = int(dec.Uint32())
		p.FilterH = int(dec.Uint32())
		return p, nil
	case OpFullyConnected:
		return &FullyConnectedParams{Activation: Activation(dec.Uint8()), KeepNumDims: dec.Bool()}, nil
	case OpSoftmax:
		return &SoftmaxParams{Beta: dec.Float32()}, nil
	}
	return nil, fmt.Errorf("unknown operator %d", op)
}

// SerializeGob writes the graph using gob encoding (fallback).
func (g *Graph) SerializeGob() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeGob reads a graph from gob-encoded data (fallback).
func DeserializeGob(data []byte) (*Graph, error) {
	var g Graph
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Decode accepts either encoding, dispatching on the leading magic number.
func Decode(data []byte) (*Graph, error) {
	if len(data) >= 4 && uint32(data[0])|uint32(data[1])<<8|uint32(data[2])<<16|uint32(data[3])<<24 == Magic {
		return Deserialize(data)
	}
	return DeserializeGob(data)
}
