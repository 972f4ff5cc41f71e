package embedcache

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
)

// Feature matrices are stored little-endian as:
//
//	[4]byte magic "FPT1"
//	uint32  rows
//	uint32  cols
//	rows*cols float32 values, row-major
//	uint32  CRC-32 (IEEE) of everything above
//
// Decode validates the magic, the declared size and the checksum, so a
// truncated or corrupted payload is rejected rather than silently read.

var magic = [4]byte{'F', 'P', 'T', '1'}

const headerSize = 4 + 4 + 4

// EncodeMatrix serializes a row-major feature matrix. All rows must have
// equal length.
func EncodeMatrix(m [][]float32) ([]byte, error) {
	rows := len(m)
	cols := 0
	if rows > 0 {
		cols = len(m[0])
	}
	buf := make([]byte, headerSize+rows*cols*4+4)
	copy(buf[:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(rows))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(cols))
	off := headerSize
	for i, row := range m {
		if len(row) != cols {
			return nil, fmt.Errorf("ragged matrix: row %d has %d values, row 0 has %d", i, len(row), cols)
		}
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
			off += 4
		}
	}
	sum := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+4], sum)
	return buf, nil
}

// DecodeMatrix parses a payload produced by EncodeMatrix.
func DecodeMatrix(data []byte) ([][]float32, error) {
	if len(data) < headerSize+4 {
		return nil, fmt.Errorf("embedding payload too short: %d bytes", len(data))
	}
	if [4]byte(data[:4]) != magic {
		return nil, fmt.Errorf("bad embedding magic %q", data[:4])
	}
	rows := int(binary.LittleEndian.Uint32(data[4:8]))
	cols := int(binary.LittleEndian.Uint32(data[8:12]))
	want := headerSize + rows*cols*4 + 4
	if len(data) != want {
		return nil, fmt.Errorf("embedding payload size %d, want %d for %dx%d matrix", len(data), want, rows, cols)
	}
	body := len(data) - 4
	if got, stored := crc32.ChecksumIEEE(data[:body]), binary.LittleEndian.Uint32(data[body:]); got != stored {
		return nil, fmt.Errorf("embedding checksum mismatch: computed %08x, stored %08x", got, stored)
	}

	m := make([][]float32, rows)
	off := headerSize
	for i := range m {
		row := make([]float32, cols)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
		}
		m[i] = row
	}
	return m, nil
}
