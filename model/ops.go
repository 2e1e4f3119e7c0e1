package model

import (
	"fmt"
	"strings"
)

// OpKind is the closed set of operators a graph may contain. Adding a
// member requires a matching kernel registration.
type OpKind uint8

const (
	OpReshape OpKind = iota + 1
	OpConv2D
	OpAdd
	OpMaxPool2D
	OpFullyConnected
	OpSoftmax
)

var opNames = map[OpKind]string{
	OpReshape:        "reshape",
	OpConv2D:         "conv2d",
	OpAdd:            "add",
	OpMaxPool2D:      "max_pool2d",
	OpFullyConnected: "fully_connected",
	OpSoftmax:        "softmax",
}

func (k OpKind) String() string {
	if name, ok := opNames[k]; ok {
		return name
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// Valid reports whether k is a known operator.
func (k OpKind) Valid() bool {
	_, ok := opNames[k]
	return ok
}

// ParseOpKind maps an operator name to its OpKind.
func ParseOpKind(s string) (OpKind, error) {
	s = strings.ToLower(s)
	for k, name := range opNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown operator %q", s)
}

// Padding selects how spatial borders are handled by conv and pool ops.
type Padding uint8

const (
	PaddingSame Padding = iota
	PaddingValid
)

func (p Padding) String() string {
	if p == PaddingValid {
		return "valid"
	}
	return "same"
}

// ParsePadding accepts "same" or "valid".
func ParsePadding(s string) (Padding, error) {
	switch strings.ToLower(s) {
	case "same":
		return PaddingSame, nil
	case "valid":
		return PaddingValid, nil
	}
	return 0, fmt.Errorf("unknown padding %q", s)
}

// Activation is a fused clamp applied to an op's output.
type Activation uint8

const (
	ActNone Activation = iota
	ActRelu
	ActReluN1To1
	ActRelu6
)

var activationNames = map[Activation]string{
	ActNone:      "none",
	ActRelu:      "relu",
	ActReluN1To1: "relu_n1_to_1",
	ActRelu6:     "relu6",
}

func (a Activation) String() string {
	if name, ok := activationNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Activation(%d)", uint8(a))
}

// ParseActivation maps an activation name to its Activation.
func ParseActivation(s string) (Activation, error) {
	s = strings.ToLower(s)
	for a, name := range activationNames {
		if name == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown activation %q", s)
}

// Params is the operator-specific configuration of a node. Each OpKind has
// exactly one concrete Params type.
type Params interface {
	Kind() OpKind
}

// ReshapeParams carries an optional target shape. When empty, the target
// shape is read from the node's second input.
type ReshapeParams struct {
	Shape []int
}

// ConvParams configures a 2-D convolution over NHWC input with OHWI filters.
type ConvParams struct {
	Padding    Padding
	StrideW    int
	StrideH    int
	DilationW  int
	DilationH  int
	Activation Activation
}

// AddParams configures an elementwise add.
type AddParams struct {
	Activation Activation
}

// PoolParams configures a 2-D max pool over NHWC input.
type PoolParams struct {
	Padding    Padding
	StrideW    int
	StrideH    int
	FilterW    int
	FilterH    int
	Activation Activation
}

// FullyConnectedParams configures a dense layer with [units, depth] weights.
type FullyConnectedParams struct {
	Activation  Activation
	KeepNumDims bool
}

// SoftmaxParams configures softmax over the innermost dimension.
type SoftmaxParams struct {
	Beta float32
}

func (*ReshapeParams) Kind() OpKind        { return OpReshape }
func (*ConvParams) Kind() OpKind           { return OpConv2D }
func (*AddParams) Kind() OpKind            { return OpAdd }
func (*PoolParams) Kind() OpKind           { return OpMaxPool2D }
func (*FullyConnectedParams) Kind() OpKind { return OpFullyConnected }
func (*SoftmaxParams) Kind() OpKind        { return OpSoftmax }

// DefaultParams returns the parameter struct for k with unit strides,
// unit dilation and beta 1.
func DefaultParams(k OpKind) (Params, error) {
	switch k {
	case OpReshape:
		return &ReshapeParams{}, nil
	case OpConv2D:
		return &ConvParams{StrideW: 1, StrideH: 1, DilationW: 1, DilationH: 1}, nil
	case OpAdd:
		return &AddParams{}, nil
	case OpMaxPool2D:
		return &PoolParams{StrideW: 1, StrideH: 1, FilterW: 1, FilterH: 1}, nil
	case OpFullyConnected:
		return &FullyConnectedParams{}, nil
	case OpSoftmax:
		return &SoftmaxParams{Beta: 1}, nil
	}
	return nil, fmt.Errorf("no parameters for operator %v", k)
}
