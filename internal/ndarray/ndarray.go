// Package ndarray provides a typed, strided multidimensional byte buffer.
// It is the unit the bridge protocol ships as raw frames: a dtype name, a
// shape, and contiguous row-major little-endian element bytes.
package ndarray

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownDType  = errors.New("ndarray: unknown dtype")
	ErrShapeMismatch = errors.New("ndarray: data length does not match shape")
	ErrBadAxes       = errors.New("ndarray: invalid axes permutation")
	ErrBadIndex      = errors.New("ndarray: index out of range")
)

// DType identifies the element type of an Array. String forms follow the
// canonical numpy names so headers stay wire-compatible with other bridge
// implementations.
type DType int

const (
	Uint8 DType = iota
	Uint16
	Uint32
	Uint64
	Int16
	Int32
	Int64
	Float32
	Float64
)

var dtypeNames = map[DType]string{
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

var dtypeSizes = map[DType]int{
	Uint8:   1,
	Uint16:  2,
	Uint32:  4,
	Uint64:  8,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	Float32: 4,
	Float64: 8,
}

func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// Size returns the element width in bytes.
func (d DType) Size() int {
	return dtypeSizes[d]
}

// ParseDType resolves a canonical dtype name as carried in array headers.
func ParseDType(name string) (DType, error) {
	for d, n := range dtypeNames {
		if n == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDType, name)
}

// Array is a multidimensional buffer. Strides are expressed in elements;
// a freshly constructed Array is contiguous in row-major order, views
// produced by Transpose may not be.
type Array struct {
	dtype   DType
	shape   []int
	strides []int
	data    []byte
}

// New returns a zero-filled contiguous array.
func New(dtype DType, shape ...int) *Array {
	n := elemCount(shape)
	return &Array{
		dtype:   dtype,
		shape:   append([]int(nil), shape...),
		strides: rowMajorStrides(shape),
		data:    make([]byte, n*dtype.Size()),
	}
}

// FromBytes wraps raw row-major element bytes without copying.
func FromBytes(dtype DType, shape []int, data []byte) (*Array, error) {
	if elemCount(shape)*dtype.Size() != len(data) {
		return nil, fmt.Errorf("%w: shape %v dtype %s has %d bytes, got %d",
			ErrShapeMismatch, shape, dtype, elemCount(shape)*dtype.Size(), len(data))
	}
	return &Array{
		dtype:   dtype,
		shape:   append([]int(nil), shape...),
		strides: rowMajorStrides(shape),
		data:    data,
	}, nil
}

func (a *Array) DType() DType { return a.dtype }

// Shape returns a copy of the dimension sizes.
func (a *Array) Shape() []int {
	return append([]int(nil), a.shape...)
}

// Len returns the logical element count.
func (a *Array) Len() int {
	return elemCount(a.shape)
}

// NBytes returns the logical payload size in bytes.
func (a *Array) NBytes() int {
	return a.Len() * a.dtype.Size()
}

// Bytes exposes the underlying buffer. Callers sending array frames must go
// through Contiguous first; a view shares its parent's layout.
func (a *Array) Bytes() []byte {
	return a.data
}

// IsContiguous reports whether elements are laid out row-major with no gaps.
func (a *Array) IsContiguous() bool {
	want := rowMajorStrides(a.shape)
	for i := range want {
		if a.shape[i] > 1 && a.strides[i] != want[i] {
			return false
		}
	}
	return true
}

// Transpose returns a view with permuted axes. The view shares the buffer,
// so it is typically non-contiguous.
func (a *Array) Transpose(axes ...int) (*Array, error) {
	if len(axes) != len(a.shape) {
		return nil, ErrBadAxes
	}
	seen := make([]bool, len(axes))
	shape := make([]int, len(axes))
	strides := make([]int, len(axes))
	for i, ax := range axes {
		if ax < 0 || ax >= len(a.shape) || seen[ax] {
			return nil, ErrBadAxes
		}
		seen[ax] = true
		shape[i] = a.shape[ax]
		strides[i] = a.strides[ax]
	}
	return &Array{dtype: a.dtype, shape: shape, strides: strides, data: a.data}, nil
}

// Contiguous returns the receiver if already row-major, otherwise a copy
// with elements gathered into row-major order.
func (a *Array) Contiguous() *Array {
	if a.IsContiguous() {
		return a
	}
	size := a.dtype.Size()
	out := New(a.dtype, a.shape...)
	idx := make([]int, len(a.shape))
	for dst := 0; dst < a.Len(); dst++ {
		src := 0
		for dim, i := range idx {
			src += i * a.strides[dim]
		}
		copy(out.data[dst*size:(dst+1)*size], a.data[src*size:(src+1)*size])
		incrementIndex(idx, a.shape)
	}
	return out
}

// Clone returns an independent contiguous copy.
func (a *Array) Clone() *Array {
	c := a.Contiguous()
	out := New(a.dtype, a.shape...)
	copy(out.data, c.data)
	return out
}

// Equal reports whether both arrays hold the same dtype, shape and element
// bytes, materializing views as needed.
func (a *Array) Equal(b *Array) bool {
	if b == nil || a.dtype != b.dtype || len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return bytes.Equal(a.Contiguous().data, b.Contiguous().data)
}

func (a *Array) elemOffset(idx []int) (int, error) {
	if len(idx) != len(a.shape) {
		return 0, ErrBadIndex
	}
	off := 0
	for dim, i := range idx {
		if i < 0 || i >= a.shape[dim] {
			return 0, ErrBadIndex
		}
		off += i * a.strides[dim]
	}
	return off, nil
}

// Uint16At reads one element of a uint16 array.
func (a *Array) Uint16At(idx ...int) uint16 {
	off, err := a.elemOffset(idx)
	if err != nil {
		panic(err)
	}
	return binary.LittleEndian.Uint16(a.data[off*2:])
}

// SetUint16 writes one element of a uint16 array.
func (a *Array) SetUint16(v uint16, idx ...int) {
	off, err := a.elemOffset(idx)
	if err != nil {
		panic(err)
	}
	binary.LittleEndian.PutUint16(a.data[off*2:], v)
}

// Float32At reads one element of a float32 array.
func (a *Array) Float32At(idx ...int) float32 {
	off, err := a.elemOffset(idx)
	if err != nil {
		panic(err)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(a.data[off*4:]))
}

// SetFloat32 writes one element of a float32 array.
func (a *Array) SetFloat32(v float32, idx ...int) {
	off, err := a.elemOffset(idx)
	if err != nil {
		panic(err)
	}
	binary.LittleEndian.PutUint32(a.data[off*4:], math.Float32bits(v))
}

// FillUint16 sets every element of a contiguous uint16 array.
func (a *Array) FillUint16(v uint16) {
	for i := 0; i < a.Len(); i++ {
		binary.LittleEndian.PutUint16(a.data[i*2:], v)
	}
}

// FillUint32 sets every element of a contiguous uint32 array.
func (a *Array) FillUint32(v uint32) {
	for i := 0; i < a.Len(); i++ {
		binary.LittleEndian.PutUint32(a.data[i*4:], v)
	}
}

func elemCount(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func incrementIndex(idx, shape []int) {
	for dim := len(idx) - 1; dim >= 0; dim-- {
		idx[dim]++
		if idx[dim] < shape[dim] {
			return
		}
		idx[dim] = 0
	}
}
