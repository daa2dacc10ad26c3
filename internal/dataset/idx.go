package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"denoise-forge/internal/tensor"
)

// ErrBadMagic indicates the stream is not an unsigned-byte IDX file.
var ErrBadMagic = errors.New("idx: bad magic number")

// ErrBadHeader indicates a dimension that is zero or declares an oversized payload.
var ErrBadHeader = errors.New("idx: bad header")

const (
	idxTypeUint8 = 0x08
	maxIDXRank   = 4
	// maxIDXBytes bounds the payload a header may declare.
	maxIDXBytes = 1 << 30
)

// ReadIDXFile decodes the IDX file at path, gzip-compressed or not.
func ReadIDXFile(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open idx")
	}
	defer f.Close()

	t, err := ReadIDX(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return t, nil
}

// ReadIDX decodes an unsigned-byte IDX stream into a Uint8 tensor whose shape
// is the header's dimension list. A gzip wrapper is detected and removed.
func ReadIDX(r io.Reader) (*tensor.Tensor, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil {
		return nil, errors.Wrap(err, "peek header")
	}
	var src io.Reader = br
	if head[0] == 0x1f && head[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer zr.Close()
		src = zr
	}

	var magic [4]byte
	if _, err := io.ReadFull(src, magic[:]); err != nil {
		return nil, errors.Wrap(err, "read magic")
	}
	if magic[0] != 0 || magic[1] != 0 || magic[2] != idxTypeUint8 {
		return nil, errors.Wrapf(ErrBadMagic, "% x", magic)
	}
	rank := int(magic[3])
	if rank == 0 || rank > maxIDXRank {
		return nil, errors.Wrapf(ErrBadMagic, "rank %d", rank)
	}

	shape := make(tensor.Shape, rank)
	size := int64(1)
	for i := range shape {
		var d uint32
		if err := binary.Read(src, binary.BigEndian, &d); err != nil {
			return nil, errors.Wrapf(err, "read dimension %d", i)
		}
		if d == 0 || int64(d) > maxIDXBytes/size {
			return nil, errors.Wrapf(ErrBadHeader, "dimension %d is %d", i, d)
		}
		size *= int64(d)
		shape[i] = int(d)
	}

	// the buffer grows with the bytes actually present, not the declared size
	data, err := io.ReadAll(io.LimitReader(src, size))
	if err != nil {
		return nil, errors.Wrap(err, "read pixel data")
	}
	if int64(len(data)) != size {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "pixel data has %d of %d bytes", len(data), size)
	}
	return tensor.FromUint8(shape, data)
}

// WriteIDX encodes a Uint8 tensor as an uncompressed IDX stream.
func WriteIDX(w io.Writer, t *tensor.Tensor) error {
	data, err := t.Uint8()
	if err != nil {
		return err
	}
	shape := t.Shape()
	if len(shape) > maxIDXRank {
		return errors.Errorf("idx: rank %d too large", len(shape))
	}
	if _, err := w.Write([]byte{0, 0, idxTypeUint8, byte(len(shape))}); err != nil {
		return err
	}
	for _, d := range shape {
		if err := binary.Write(w, binary.BigEndian, uint32(d)); err != nil {
			return err
		}
	}
	_, err = w.Write(data)
	return err
}
