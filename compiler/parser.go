package compiler

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sbl8/staticgraph/core"
	"github.com/sbl8/staticgraph/model"
)

// Parse reads graph DSL source and returns the graph it describes. Offsets
// given with at= are kept; every other arena tensor is left for the planner.
func Parse(src []byte) (*model.Graph, error) {
	lines := strings.Split(string(src), "\n")
	p := newParser()

	for i := 0; i < len(lines); i++ {
		line := stripComment(lines[i])
		if line == "" {
			continue
		}
		var err error
		i, err = p.parseLine(lines, i)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return p.g, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// dslParser accumulates the graph one directive at a time.
type dslParser struct {
	g      *model.Graph
	names  map[string]int
	consts map[int]bool
}

func newParser() *dslParser {
	return &dslParser{
		g:      &model.Graph{},
		names:  make(map[string]int),
		consts: make(map[int]bool),
	}
}

// parseLine processes one line and returns the index of the last line consumed.
func (p *dslParser) parseLine(lines []string, idx int) (int, error) {
	fields := strings.Fields(stripComment(lines[idx]))
	if fields[0] == "iterate" {
		return p.parseIterateBlock(lines, idx, fields)
	}
	return idx, p.processSimpleLine(fields)
}

func (p *dslParser) processSimpleLine(fields []string) error {
	switch fields[0] {
	case "graph":
		return p.parseGraphLine(fields)
	case "arena":
		return p.parseArenaLine(fields)
	case "tensor":
		return p.parseTensorLine(fields)
	case "data":
		return p.parseDataLine(fields)
	case "values":
		return p.parseValuesLine(fields)
	case "input", "output":
		return p.parseSlotLine(fields)
	case "node":
		return p.parseNodeLine(fields)
	default:
		return fmt.Errorf("unknown directive: %s", fields[0])
	}
}

func (p *dslParser) parseGraphLine(fields []string) error {
	if len(fields) != 2 {
		return fmt.Errorf("graph takes exactly one name")
	}
	p.g.Name = fields[1]
	return nil
}

// arena <size> [align=N]
func (p *dslParser) parseArenaLine(fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("arena needs a size")
	}
	size, err := strconv.Atoi(fields[1])
	if err != nil || size < 0 {
		return fmt.Errorf("invalid arena size %q", fields[1])
	}
	p.g.ArenaSize = size
	for _, kv := range fields[2:] {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key != "align" {
			return fmt.Errorf("unknown arena option %q", kv)
		}
		align, err := strconv.Atoi(val)
		if err != nil || !core.IsPowerOfTwo(align) {
			return fmt.Errorf("invalid alignment %q", val)
		}
		p.g.Alignment = align
	}
	return nil
}

// tensor <name> <type> <dims> [const] [at=N] [bytes=N] [q=scale:zp,...] [qdim=N]
func (p *dslParser) parseTensorLine(fields []string) error {
	if len(fields) < 4 {
		return fmt.Errorf("invalid tensor spec: needs name, type and shape")
	}
	name := fields[1]
	if _, dup := p.names[name]; dup {
		return fmt.Errorf("tensor %q declared twice", name)
	}
	typ, err := core.ParseElementType(fields[2])
	if err != nil {
		return err
	}
	shape, err := parseDims(fields[3])
	if err != nil {
		return err
	}
	t := model.TensorSpec{
		Name:   name,
		Type:   typ,
		Shape:  shape,
		Bytes:  shape.NumElements() * typ.Size(),
		Kind:   core.ArenaBacked,
		Offset: -1,
	}
	qdim := 0
	for _, opt := range fields[4:] {
		if opt == "const" {
			t.Kind = core.StaticReadOnly
			continue
		}
		key, val, ok := strings.Cut(opt, "=")
		if !ok {
			return fmt.Errorf("tensor %q: malformed option %q", name, opt)
		}
		switch key {
		case "at":
			if t.Offset, err = parseNonNegative(val); err != nil {
				return fmt.Errorf("tensor %q: offset: %w", name, err)
			}
		case "bytes":
			if t.Bytes, err = parseNonNegative(val); err != nil {
				return fmt.Errorf("tensor %q: bytes: %w", name, err)
			}
		case "q":
			if t.Quant, err = parseQuant(val); err != nil {
				return fmt.Errorf("tensor %q: %w", name, err)
			}
		case "qdim":
			if qdim, err = parseNonNegative(val); err != nil {
				return fmt.Errorf("tensor %q: qdim: %w", name, err)
			}
		default:
			return fmt.Errorf("tensor %q: unknown option %q", name, key)
		}
	}
	if t.Kind == core.StaticReadOnly && t.Offset >= 0 {
		return fmt.Errorf("tensor %q: const tensors have no arena offset", name)
	}
	if t.Quant != nil {
		t.Quant.Dimension = qdim
	}
	p.names[name] = len(p.g.Tensors)
	if t.Kind == core.StaticReadOnly {
		p.consts[len(p.g.Tensors)] = true
	}
	p.g.Tensors = append(p.g.Tensors, t)
	return nil
}

// data <tensor> <hex>; repeated lines append.
func (p *dslParser) parseDataLine(fields []string) error {
	if len(fields) != 3 {
		return fmt.Errorf("invalid data spec: needs tensor and hex payload")
	}
	t, err := p.constTensor(fields[1])
	if err != nil {
		return err
	}
	b, err := hex.DecodeString(fields[2])
	if err != nil {
		return fmt.Errorf("data for %q: %w", fields[1], err)
	}
	t.Data = append(t.Data, b...)
	return nil
}

// values <tensor> v0 v1 ...; encoded little-endian in the tensor's type.
func (p *dslParser) parseValuesLine(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("invalid values spec: needs tensor and values")
	}
	t, err := p.constTensor(fields[1])
	if err != nil {
		return err
	}
	for _, v := range fields[2:] {
		if t.Data, err = appendValue(t.Data, t.Type, v); err != nil {
			return fmt.Errorf("values for %q: %w", fields[1], err)
		}
	}
	return nil
}

func (p *dslParser) constTensor(name string) (*model.TensorSpec, error) {
	idx, ok := p.names[name]
	if !ok {
		return nil, fmt.Errorf("unknown tensor %q", name)
	}
	if !p.consts[idx] {
		return nil, fmt.Errorf("tensor %q is not const", name)
	}
	return &p.g.Tensors[idx], nil
}

func appendValue(dst []byte, typ core.ElementType, v string) ([]byte, error) {
	switch typ {
	case core.Int8:
		n, err := strconv.ParseInt(v, 0, 8)
		if err != nil {
			return nil, err
		}
		return append(dst, byte(int8(n))), nil
	case core.UInt8:
		n, err := strconv.ParseUint(v, 0, 8)
		if err != nil {
			return nil, err
		}
		return append(dst, byte(n)), nil
	case core.Int16:
		n, err := strconv.ParseInt(v, 0, 16)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint16(dst, uint16(int16(n))), nil
	case core.Int32:
		n, err := strconv.ParseInt(v, 0, 32)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32(dst, uint32(int32(n))), nil
	case core.Float32:
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(f))), nil
	default:
		return nil, fmt.Errorf("no literal form for %s", typ)
	}
}

// input|output <tensor>...
func (p *dslParser) parseSlotLine(fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("%s needs at least one tensor", fields[0])
	}
	for _, name := range fields[1:] {
		idx, ok := p.names[name]
		if !ok {
			return fmt.Errorf("unknown tensor %q", name)
		}
		if fields[0] == "input" {
			p.g.Inputs = append(p.g.Inputs, idx)
		} else {
			p.g.Outputs = append(p.g.Outputs, idx)
		}
	}
	return nil
}

// node <op> in=a,b,- out=c [key=value...]
func (p *dslParser) parseNodeLine(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("invalid node spec: needs op, in= and out=")
	}
	op, err := model.ParseOpKind(fields[1])
	if err != nil {
		return err
	}
	params, err := model.DefaultParams(op)
	if err != nil {
		return err
	}
	node := model.NodeSpec{Op: op, Params: params}
	for _, opt := range fields[2:] {
		key, val, ok := strings.Cut(opt, "=")
		if !ok {
			return fmt.Errorf("node %v: malformed option %q", op, opt)
		}
		switch key {
		case "in":
			if node.Inputs, err = p.resolve(val, true); err != nil {
				return fmt.Errorf("node %v: %w", op, err)
			}
		case "out":
			if node.Outputs, err = p.resolve(val, false); err != nil {
				return fmt.Errorf("node %v: %w", op, err)
			}
		default:
			if err := applyParam(params, key, val); err != nil {
				return fmt.Errorf("node %v: %w", op, err)
			}
		}
	}
	if len(node.Outputs) == 0 {
		return fmt.Errorf("node %v has no outputs", op)
	}
	p.g.Nodes = append(p.g.Nodes, node)
	return nil
}

// resolve maps a comma-separated tensor list to indices; "-" marks an
// absent optional input.
func (p *dslParser) resolve(list string, allowAbsent bool) ([]int, error) {
	var out []int
	for _, name := range strings.Split(list, ",") {
		if name == "-" && allowAbsent {
			out = append(out, model.NoTensor)
			continue
		}
		idx, ok := p.names[name]
		if !ok {
			return nil, fmt.Errorf("unknown tensor %q", name)
		}
		out = append(out, idx)
	}
	return out, nil
}

func applyParam(params model.Params, key, val string) error {
	var err error
	switch p := params.(type) {
	case *model.ReshapeParams:
		if key != "shape" {
			break
		}
		var s core.Shape
		s, err = parseDims(val)
		p.Shape = s
		return err
	case *model.ConvParams:
		switch key {
		case "padding":
			p.Padding, err = model.ParsePadding(val)
		case "stride":
			p.StrideW, err = parsePositive(val)
			p.StrideH = p.StrideW
		case "stride_w":
			p.StrideW, err = parsePositive(val)
		case "stride_h":
			p.StrideH, err = parsePositive(val)
		case "dilation":
			p.DilationW, err = parsePositive(val)
			p.DilationH = p.DilationW
		case "dilation_w":
			p.DilationW, err = parsePositive(val)
		case "dilation_h":
			p.DilationH, err = parsePositive(val)
		case "act":
			p.Activation, err = model.ParseActivation(val)
		default:
			return fmt.Errorf("unknown conv2d option %q", key)
		}
		return err
	case *model.AddParams:
		if key != "act" {
			break
		}
		p.Activation, err = model.ParseActivation(val)
		return err
	case *model.PoolParams:
		switch key {
		case "padding":
			p.Padding, err = model.ParsePadding(val)
		case "stride":
			p.StrideW, err = parsePositive(val)
			p.StrideH = p.StrideW
		case "stride_w":
			p.StrideW, err = parsePositive(val)
		case "stride_h":
			p.StrideH, err = parsePositive(val)
		case "filter":
			p.FilterW, err = parsePositive(val)
			p.FilterH = p.FilterW
		case "filter_w":
			p.FilterW, err = parsePositive(val)
		case "filter_h":
			p.FilterH, err = parsePositive(val)
		case "act":
			p.Activation, err = model.ParseActivation(val)
		default:
			return fmt.Errorf("unknown max_pool2d option %q", key)
		}
		return err
	case *model.FullyConnectedParams:
		switch key {
		case "act":
			p.Activation, err = model.ParseActivation(val)
		case "keep_dims":
			p.KeepNumDims, err = strconv.ParseBool(val)
		default:
			return fmt.Errorf("unknown fully_connected option %q", key)
		}
		return err
	case *model.SoftmaxParams:
		if key != "beta" {
			break
		}
		var beta float64
		beta, err = strconv.ParseFloat(val, 32)
		p.Beta = float32(beta)
		return err
	}
	return fmt.Errorf("unknown %v option %q", params.Kind(), key)
}

// finish checks that every const tensor received exactly its bytes.
func (p *dslParser) finish() error {
	for i := range p.g.Tensors {
		t := &p.g.Tensors[i]
		if t.Kind != core.StaticReadOnly {
			continue
		}
		if len(t.Data) != t.Bytes {
			return fmt.Errorf("const tensor %q has %d bytes of data, want %d", t.Name, len(t.Data), t.Bytes)
		}
	}
	return nil
}

// parseDims reads "1x49x40x1"; "scalar" is rank 0 and -1 is kept for
// reshape targets.
func parseDims(s string) (core.Shape, error) {
	if s == "scalar" {
		return core.Shape{}, nil
	}
	parts := strings.Split(s, "x")
	shape := make(core.Shape, len(parts))
	for i, part := range parts {
		d, err := strconv.Atoi(part)
		if err != nil || d < -1 {
			return nil, fmt.Errorf("invalid dimension %q in %q", part, s)
		}
		shape[i] = d
	}
	return shape, nil
}

// parseQuant reads "scale:zp[,scale:zp...]".
func parseQuant(s string) (*core.Quantization, error) {
	q := &core.Quantization{}
	for _, pair := range strings.Split(s, ",") {
		sc, zp, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("quantization pair %q lacks a zero point", pair)
		}
		scale, err := strconv.ParseFloat(sc, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid scale %q: %w", sc, err)
		}
		zero, err := strconv.ParseInt(zp, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid zero point %q: %w", zp, err)
		}
		q.Scale = append(q.Scale, float32(scale))
		q.ZeroPoint = append(q.ZeroPoint, int32(zero))
	}
	return q, nil
}

func parseNonNegative(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return n, nil
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%d is not positive", n)
	}
	return n, nil
}

// parseIterateBlock expands "iterate <var> <start> <end> {" ... "}" with
// <end> inclusive. Inside the block a field equal to the variable, and any
// "$var" within a field, is replaced by the current value.
func (p *dslParser) parseIterateBlock(lines []string, idx int, fields []string) (int, error) {
	if len(fields) < 4 {
		return idx, fmt.Errorf("invalid iterate spec: %s", strings.Join(fields, " "))
	}
	varName, start, end, err := parseIterateParams(fields)
	if err != nil {
		return idx, err
	}

	blockStart := idx
	if fields[len(fields)-1] != "{" {
		blockStart++
		for blockStart < len(lines) && stripComment(lines[blockStart]) == "" {
			blockStart++
		}
		if blockStart >= len(lines) || stripComment(lines[blockStart]) != "{" {
			return idx, fmt.Errorf("missing '{' after iterate")
		}
	}

	block, blockEnd, err := collectBlockLines(lines, blockStart)
	if err != nil {
		return idx, err
	}
	if err := p.expandIterateBlock(block, varName, start, end); err != nil {
		return idx, err
	}
	return blockEnd, nil
}

func parseIterateParams(fields []string) (varName string, start, end int, err error) {
	varName = fields[1]
	start, err = strconv.Atoi(fields[2])
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid iterate start %q: %v", fields[2], err)
	}
	end, err = strconv.Atoi(fields[3])
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid iterate end %q: %v", fields[3], err)
	}
	return varName, start, end, nil
}

func collectBlockLines(lines []string, startIdx int) ([]string, int, error) {
	var block []string
	for i := startIdx + 1; i < len(lines); i++ {
		line := stripComment(lines[i])
		if line == "}" {
			return block, i, nil
		}
		if line != "" {
			block = append(block, line)
		}
	}
	return nil, len(lines), fmt.Errorf("unterminated iterate block")
}

func (p *dslParser) expandIterateBlock(block []string, varName string, start, end int) error {
	for v := start; v <= end; v++ {
		for _, line := range block {
			fields := expandVariable(line, varName, v)
			if err := p.processSimpleLine(fields); err != nil {
				return fmt.Errorf("iterate %s=%d: %w", varName, v, err)
			}
		}
	}
	return nil
}

func expandVariable(line, varName string, value int) []string {
	num := strconv.Itoa(value)
	fields := strings.Fields(line)
	for i, field := range fields {
		if field == varName {
			fields[i] = num
			continue
		}
		fields[i] = strings.ReplaceAll(field, "$"+varName, num)
	}
	return fields
}
