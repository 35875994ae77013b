/*
Copyright 2025 The Edward Authors. All Rights Reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tfrecord reads and writes length-delimited records in the TFRecord
// framing used by event files.
//
// Each record is laid out as
//
//	uint64 length      (little-endian)
//	uint32 masked crc of length
//	byte   data[length]
//	uint32 masked crc of data
//
// with CRC32-C (Castagnoli) checksums run through a rotation mask.
package tfrecord

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

const maskDelta = 0xa282ead8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrChecksum is returned when a record's checksum does not match its
// contents.
var ErrChecksum = errors.New("tfrecord: checksum mismatch")

// mask returns a masked representation of crc, as stored in record headers.
func mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// unmask inverts mask.
func unmask(masked uint32) uint32 {
	crc := masked - maskDelta
	return (crc >> 17) | (crc << 15)
}

func maskedCRC(data []byte) uint32 {
	return mask(crc32.Checksum(data, castagnoli))
}

// Writer writes framed records to an underlying io.Writer through an
// internal buffer. Call Flush to push buffered records down.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a Writer emitting records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteRecord frames and buffers one record.
func (w *Writer) WriteRecord(data []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:12], maskedCRC(header[0:8]))
	if _, err := w.w.Write(header[:]); err != nil {
		return errors.Wrap(err, "write record header")
	}
	if _, err := w.w.Write(data); err != nil {
		return errors.Wrap(err, "write record data")
	}
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(data))
	if _, err := w.w.Write(footer[:]); err != nil {
		return errors.Wrap(err, "write record footer")
	}
	return nil
}

// Flush writes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	return errors.Wrap(w.w.Flush(), "flush records")
}

// Reader reads records from an underlying io.Reader.
type Reader struct {
	r io.Reader
}

// NewReader returns a Reader consuming records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads the next record. It returns io.EOF at a clean end of stream,
// io.ErrUnexpectedEOF when the stream stops mid-record (as happens when
// tailing a file that is still being written), and ErrChecksum when a
// checksum fails.
func (r *Reader) Next() ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.r, header[:1]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read record header")
	}
	if _, err := io.ReadFull(r.r, header[1:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "read record header")
	}
	length := binary.LittleEndian.Uint64(header[0:8])
	if got := binary.LittleEndian.Uint32(header[8:12]); got != maskedCRC(header[0:8]) {
		return nil, ErrChecksum
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "read record data")
	}
	var footer [4]byte
	if _, err := io.ReadFull(r.r, footer[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "read record footer")
	}
	if got := binary.LittleEndian.Uint32(footer[:]); got != maskedCRC(data) {
		return nil, ErrChecksum
	}
	return data, nil
}
