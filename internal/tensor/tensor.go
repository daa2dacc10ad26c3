package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds returned when a tensor does not have the expected layout.
var (
	ErrShapeMismatch    = errors.New("tensor: shape mismatch")
	ErrDtypeMismatch    = errors.New("tensor: dtype mismatch")
	ErrIndexOutOfRange  = errors.New("tensor: index out of range")
	errDataSizeMismatch = errors.New("tensor: data length does not match shape")
)

// DType is the element type of a Tensor.
type DType uint8

const (
	Uint8 DType = iota + 1
	Float32
)

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Shape lists the dimensions of a Tensor, outermost first.
type Shape []int

// Size returns the number of elements described by s.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether s and o have the same rank and dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	return fmt.Sprint([]int(s))
}

func (s Shape) clone() Shape {
	return append(Shape(nil), s...)
}

// Tensor is an n-D array backed by a flat row-major slice. Exactly one of the
// backing slices is populated, selected by DType. Tensors are never mutated
// after construction; operations return new tensors.
type Tensor struct {
	shape Shape
	dtype DType
	u8    []uint8
	f32   []float32
}

// FromUint8 wraps data as a Uint8 tensor of the given shape. data is not copied.
func FromUint8(shape Shape, data []uint8) (*Tensor, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	if len(data) != shape.Size() {
		return nil, errors.Wrapf(errDataSizeMismatch, "shape %v wants %d elements, got %d", shape, shape.Size(), len(data))
	}
	return &Tensor{shape: shape.clone(), dtype: Uint8, u8: data}, nil
}

// FromFloat32 wraps data as a Float32 tensor of the given shape. data is not copied.
func FromFloat32(shape Shape, data []float32) (*Tensor, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	if len(data) != shape.Size() {
		return nil, errors.Wrapf(errDataSizeMismatch, "shape %v wants %d elements, got %d", shape, shape.Size(), len(data))
	}
	return &Tensor{shape: shape.clone(), dtype: Float32, f32: data}, nil
}

// Zeros allocates a Float32 tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	s := Shape(shape)
	if err := validShape(s); err != nil {
		panic(err)
	}
	return &Tensor{shape: s.clone(), dtype: Float32, f32: make([]float32, s.Size())}
}

func validShape(s Shape) error {
	if len(s) == 0 {
		return errors.Wrap(ErrShapeMismatch, "rank 0 tensors are not supported")
	}
	for _, d := range s {
		if d < 0 {
			return errors.Wrapf(ErrShapeMismatch, "negative dimension in %v", s)
		}
	}
	return nil
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() Shape { return t.shape.clone() }

// DType returns the element type.
func (t *Tensor) DType() DType { return t.dtype }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Len returns the leading (sample) dimension.
func (t *Tensor) Len() int { return t.shape[0] }

// SampleSize returns the number of elements in one sample along the leading dimension.
func (t *Tensor) SampleSize() int { return t.shape[1:].Size() }

// Uint8 returns the backing data of a Uint8 tensor. Callers must not modify it.
func (t *Tensor) Uint8() ([]uint8, error) {
	if t.dtype != Uint8 {
		return nil, errors.Wrapf(ErrDtypeMismatch, "want %s, have %s", Uint8, t.dtype)
	}
	return t.u8, nil
}

// Float32 returns the backing data of a Float32 tensor. Callers must not modify it.
func (t *Tensor) Float32() ([]float32, error) {
	if t.dtype != Float32 {
		return nil, errors.Wrapf(ErrDtypeMismatch, "want %s, have %s", Float32, t.dtype)
	}
	return t.f32, nil
}

// Reshape returns a tensor sharing t's data under a new shape of equal size.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	s := Shape(shape)
	if err := validShape(s); err != nil {
		return nil, err
	}
	if s.Size() != t.shape.Size() {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot reshape %v to %v", t.shape, s)
	}
	return &Tensor{shape: s.clone(), dtype: t.dtype, u8: t.u8, f32: t.f32}, nil
}

// Head returns the first n samples. n larger than Len returns t itself.
func (t *Tensor) Head(n int) *Tensor {
	if n >= t.Len() || n < 0 {
		return t
	}
	s := t.shape.clone()
	s[0] = n
	per := t.SampleSize()
	out := &Tensor{shape: s, dtype: t.dtype}
	switch t.dtype {
	case Uint8:
		out.u8 = t.u8[:n*per]
	case Float32:
		out.f32 = t.f32[:n*per]
	}
	return out
}

// Gather copies the samples at the given leading-dimension indices into a new tensor.
func (t *Tensor) Gather(indices []int) (*Tensor, error) {
	if err := CheckIndices(indices, t.Len()); err != nil {
		return nil, err
	}
	s := t.shape.clone()
	s[0] = len(indices)
	per := t.SampleSize()
	out := &Tensor{shape: s, dtype: t.dtype}
	switch t.dtype {
	case Uint8:
		out.u8 = make([]uint8, len(indices)*per)
		for i, idx := range indices {
			copy(out.u8[i*per:(i+1)*per], t.u8[idx*per:(idx+1)*per])
		}
	case Float32:
		out.f32 = make([]float32, len(indices)*per)
		for i, idx := range indices {
			copy(out.f32[i*per:(i+1)*per], t.f32[idx*per:(idx+1)*per])
		}
	}
	return out, nil
}

// At returns the Float32 element at the given indices.
func (t *Tensor) At(indices ...int) float32 {
	if t.dtype != Float32 {
		panic(fmt.Sprintf("At: tensor is %s", t.dtype))
	}
	return t.f32[t.offset(indices)]
}

func (t *Tensor) offset(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(t.shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (shape: %v)", indices[i], i, t.shape))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}
	return idx
}

// CheckIndices verifies every index lies in [0, n).
func CheckIndices(indices []int, n int) error {
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return errors.Wrapf(ErrIndexOutOfRange, "index %d not in [0, %d)", idx, n)
		}
	}
	return nil
}

// CheckShape fails with ErrShapeMismatch unless t has exactly the given shape.
// A negative entry in want matches any size.
func CheckShape(t *Tensor, want ...int) error {
	if len(t.shape) != len(want) {
		return errors.Wrapf(ErrShapeMismatch, "want rank %d %v, have %v", len(want), want, t.shape)
	}
	for i, d := range want {
		if d >= 0 && t.shape[i] != d {
			return errors.Wrapf(ErrShapeMismatch, "want %v, have %v", want, t.shape)
		}
	}
	return nil
}

// CheckSameShape fails with ErrShapeMismatch unless a and b share a shape.
func CheckSameShape(a, b *Tensor) error {
	if !a.shape.Equal(b.shape) {
		return errors.Wrapf(ErrShapeMismatch, "%v vs %v", a.shape, b.shape)
	}
	return nil
}
