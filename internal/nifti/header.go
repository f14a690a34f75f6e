// Package nifti reads the voxel-grid geometry of NIfTI-1 and NIfTI-2 images.
//
// Only the header is decoded; voxel data is never read.
//
// Header layouts:
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
// https://nifti.nimh.nih.gov/pub/dist/doc/nifti2.h
package nifti

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	nifti1HeaderSize = 348
	nifti2HeaderSize = 540

	nifti1DimOffset = 40
	nifti2DimOffset = 16
)

// Header holds the header fields needed to describe the voxel grid.
type Header struct {
	Version   int      // 1 or 2
	Dim       [8]int64 // dim[0] = number of dimensions, dim[1..] = extents
	ByteOrder binary.ByteOrder
}

// Shape returns the extents of the used dimensions, dim[1..dim[0]].
func (h Header) Shape() []int {
	n := int(h.Dim[0])
	shape := make([]int, n)
	for i := 0; i < n; i++ {
		shape[i] = int(h.Dim[i+1])
	}
	return shape
}

// ReadHeader decodes a NIfTI header from r. The byte order is inferred
// from sizeof_hdr, which must read 348 (NIfTI-1) or 540 (NIfTI-2).
func ReadHeader(r io.Reader) (Header, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return Header{}, fmt.Errorf("read sizeof_hdr: %w", err)
	}

	var (
		order   binary.ByteOrder
		version int
		size    int
	)
	for _, o := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		switch int32(o.Uint32(sizeBuf[:])) {
		case nifti1HeaderSize:
			order, version, size = o, 1, nifti1HeaderSize
		case nifti2HeaderSize:
			order, version, size = o, 2, nifti2HeaderSize
		}
		if order != nil {
			break
		}
	}
	if order == nil {
		return Header{}, fmt.Errorf("not a NIfTI header: sizeof_hdr bytes %x", sizeBuf)
	}

	buf := make([]byte, size)
	copy(buf, sizeBuf[:])
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return Header{}, fmt.Errorf("read NIfTI-%d header: %w", version, err)
	}

	h := Header{Version: version, ByteOrder: order}
	rd := bytes.NewReader(buf)
	if version == 1 {
		var dim [8]int16
		if _, err := rd.Seek(nifti1DimOffset, io.SeekStart); err != nil {
			return Header{}, err
		}
		if err := binary.Read(rd, order, &dim); err != nil {
			return Header{}, fmt.Errorf("read dim: %w", err)
		}
		for i, d := range dim {
			h.Dim[i] = int64(d)
		}
	} else {
		if _, err := rd.Seek(nifti2DimOffset, io.SeekStart); err != nil {
			return Header{}, err
		}
		if err := binary.Read(rd, order, &h.Dim); err != nil {
			return Header{}, fmt.Errorf("read dim: %w", err)
		}
	}

	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return Header{}, fmt.Errorf("invalid dim[0] %d: not in range [1, 7]", h.Dim[0])
	}
	for i := 1; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] < 1 {
			return Header{}, fmt.Errorf("invalid dim[%d] %d", i, h.Dim[i])
		}
	}
	return h, nil
}

// ReadShape returns the voxel-grid extents of the image at path. Gzip
// compression is detected from the stream, not the file extension.
func ReadShape(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	h, err := ReadHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h.Shape(), nil
}
