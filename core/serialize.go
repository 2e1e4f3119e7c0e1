package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

// Header frames a serialized blob with a magic number, a version and a
// checksum over the body.
type Header struct {
	Magic    uint32
	Version  uint16
	Flags    uint16
	Length   uint32 // body length in bytes
	Checksum uint32 // CRC32 (IEEE) of the body
}

// HeaderSize is the encoded size of Header.
const HeaderSize = 16

var (
	ErrBadMagic   = errors.New("invalid magic number")
	ErrCorrupted  = errors.New("data corruption detected")
	ErrTruncated  = errors.New("truncated data")
	maxSliceItems = uint32(1 << 24)
)

// FrameWithHeader prepends a Header to body.
func FrameWithHeader(magic uint32, version uint16, body []byte) []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(out[0:], magic)
	binary.LittleEndian.PutUint16(out[4:], version)
	binary.LittleEndian.PutUint16(out[6:], 0)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(body)))
	binary.LittleEndian.PutUint32(out[12:], crc32.ChecksumIEEE(body))
	return append(out, body...)
}

// ParseHeader validates the frame around data and returns the header and body.
func ParseHeader(data []byte, magic uint32) (Header, []byte, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, nil, fmt.Errorf("%w: %d bytes is smaller than a header", ErrTruncated, len(data))
	}
	h.Magic = binary.LittleEndian.Uint32(data[0:])
	h.Version = binary.LittleEndian.Uint16(data[4:])
	h.Flags = binary.LittleEndian.Uint16(data[6:])
	h.Length = binary.LittleEndian.Uint32(data[8:])
	h.Checksum = binary.LittleEndian.Uint32(data[12:])
	if h.Magic != magic {
		return h, nil, fmt.Errorf("%w: %x", ErrBadMagic, h.Magic)
	}
	body := data[HeaderSize:]
	if uint32(len(body)) < h.Length {
		return h, nil, fmt.Errorf("%w: body has %d bytes, header says %d", ErrTruncated, len(body), h.Length)
	}
	body = body[:h.Length]
	if crc32.ChecksumIEEE(body) != h.Checksum {
		return h, nil, ErrCorrupted
	}
	return h, body, nil
}

// Encoder writes little-endian primitives and remembers the first error.
type Encoder struct {
	w   io.Writer
	err error
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Err returns the first write error.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) write(v any) {
	if e.err != nil {
		return
	}
	e.err = binary.Write(e.w, binary.LittleEndian, v)
}

func (e *Encoder) Uint8(v uint8)     { e.write(v) }
func (e *Encoder) Uint16(v uint16)   { e.write(v) }
func (e *Encoder) Uint32(v uint32)   { e.write(v) }
func (e *Encoder) Int32(v int32)     { e.write(v) }
func (e *Encoder) Float32(v float32) { e.write(math.Float32bits(v)) }
func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint8(1)
	} else {
		e.Uint8(0)
	}
}

// Bytes writes a length-prefixed byte slice.
func (e *Encoder) Bytes(b []byte) {
	e.Uint32(uint32(len(b)))
	if e.err == nil && len(b) > 0 {
		_, e.err = e.w.Write(b)
	}
}

// Text writes a length-prefixed string.
func (e *Encoder) Text(s string) {
	e.Bytes([]byte(s))
}

// Ints writes a length-prefixed list of int32 values.
func (e *Encoder) Ints(v []int) {
	e.Uint32(uint32(len(v)))
	for _, x := range v {
		e.Int32(int32(x))
	}
}

// Shape writes a shape as a length-prefixed list of dimensions.
func (e *Encoder) Shape(s Shape) {
	e.Ints(s)
}

// Quantization writes a presence flag followed by scales, zero points and dimension.
func (e *Encoder) Quantization(q *Quantization) {
	if q == nil {
		e.Bool(false)
		return
	}
	e.Bool(true)
	e.Uint32(uint32(len(q.Scale)))
	for _, s := range q.Scale {
		e.Float32(s)
	}
	e.Uint32(uint32(len(q.ZeroPoint)))
	for _, z := range q.ZeroPoint {
		e.Int32(z)
	}
	e.Int32(int32(q.Dimension))
}

// Decoder is the reading counterpart of Encoder.
type Decoder struct {
	r   *bytes.Reader
	err error
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{r: bytes.NewReader(data)}
}

// Err returns the first read error.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return d.r.Len() }

func (d *Decoder) read(v any) {
	if d.err != nil {
		return
	}
	if err := binary.Read(d.r, binary.LittleEndian, v); err != nil {
		d.err = fmt.Errorf("%w: %v", ErrTruncated, err)
	}
}

func (d *Decoder) Uint8() (v uint8)   { d.read(&v); return v }
func (d *Decoder) Uint16() (v uint16) { d.read(&v); return v }
func (d *Decoder) Uint32() (v uint32) { d.read(&v); return v }
func (d *Decoder) Int32() (v int32)   { d.read(&v); return v }
func (d *Decoder) Float32() float32   { return math.Float32frombits(d.Uint32()) }
func (d *Decoder) Bool() bool         { return d.Uint8() != 0 }

// length reads a count and rejects values that cannot fit in the remaining data.
func (d *Decoder) length(elemSize int) int {
	n := d.Uint32()
	if d.err != nil {
		return 0
	}
	if n > maxSliceItems || int(n)*elemSize > d.r.Len() {
		d.err = fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrTruncated, n, d.r.Len())
		return 0
	}
	return int(n)
}

func (d *Decoder) Bytes() []byte {
	n := d.length(1)
	if d.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = fmt.Errorf("%w: %v", ErrTruncated, err)
		return nil
	}
	return b
}

func (d *Decoder) Text() string {
	return string(d.Bytes())
}

func (d *Decoder) Ints() []int {
	n := d.length(4)
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = int(d.Int32())
	}
	return out
}

func (d *Decoder) Shape() Shape {
	return Shape(d.Ints())
}

func (d *Decoder) Quantization() *Quantization {
	if !d.Bool() || d.err != nil {
		return nil
	}
	q := &Quantization{}
	if n := d.length(4); n > 0 {
		q.Scale = make([]float32, n)
		for i := range q.Scale {
			q.Scale[i] = d.Float32()
		}
	}
	if n := d.length(4); n > 0 {
		q.ZeroPoint = make([]int32, n)
		for i := range q.ZeroPoint {
			q.ZeroPoint[i] = d.Int32()
		}
	}
	q.Dimension = int(d.Int32())
	return q
}
