package tensor

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFloat32RejectsWrongLength(t *testing.T) {
	_, err := FromFloat32(Shape{2, 3}, make([]float32, 5))
	require.Error(t, err)
}

func TestDTypeAccessors(t *testing.T) {
	u, err := FromUint8(Shape{2, 2}, []uint8{1, 2, 3, 4})
	require.NoError(t, err)

	_, err = u.Float32()
	assert.True(t, errors.Is(err, ErrDtypeMismatch))

	data, err := u.Uint8()
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 2, 3, 4}, data)
}

func TestReshapeKeepsData(t *testing.T) {
	x, err := FromFloat32(Shape{2, 3}, []float32{0, 1, 2, 3, 4, 5})
	require.NoError(t, err)

	y, err := x.Reshape(2, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3, 1}, y.Shape())
	assert.Equal(t, float32(4), y.At(1, 1, 0))

	_, err = x.Reshape(4, 2)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestGather(t *testing.T) {
	x, err := FromFloat32(Shape{3, 2}, []float32{0, 1, 10, 11, 20, 21})
	require.NoError(t, err)

	g, err := x.Gather([]int{2, 0})
	require.NoError(t, err)
	data, _ := g.Float32()
	assert.Equal(t, []float32{20, 21, 0, 1}, data)
	assert.Equal(t, Shape{2, 2}, g.Shape())

	_, err = x.Gather([]int{3})
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestHead(t *testing.T) {
	x, err := FromUint8(Shape{3, 2}, []uint8{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	h := x.Head(2)
	assert.Equal(t, Shape{2, 2}, h.Shape())
	data, _ := h.Uint8()
	assert.Equal(t, []uint8{1, 2, 3, 4}, data)
	assert.Same(t, x, x.Head(10))
}

func TestCheckShape(t *testing.T) {
	x := Zeros(4, 28, 28, 1)
	assert.NoError(t, CheckShape(x, -1, 28, 28, 1))
	assert.True(t, errors.Is(CheckShape(x, -1, 28, 28), ErrShapeMismatch))
	assert.True(t, errors.Is(CheckSameShape(x, Zeros(4, 28, 28, 2)), ErrShapeMismatch))
}

func TestShapeImmutableFromOutside(t *testing.T) {
	x := Zeros(2, 2)
	s := x.Shape()
	s[0] = 9
	assert.Equal(t, 2, x.Len())
}
