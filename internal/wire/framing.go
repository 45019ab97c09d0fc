// SPDX-License-Identifier: Apache 2.0

// Package wire implements the length-prefixed binary primitives and
// the sync message-type codec (C9, spec §6.1). Multi-byte integers are
// little-endian; strings and byte buffers are length-prefixed, in the
// "BinaryWriter" convention the spec allows any equivalent encoding
// of (length-prefixed UTF-8 strings, i32-length-prefixed byte buffers).
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxStringLen and MaxBufferLen bound untrusted length prefixes so a
// corrupt or hostile peer cannot force an unbounded allocation.
const (
	MaxStringLen = 1 << 20        // 1 MiB
	MaxBufferLen = 256 << 20      // 256 MiB, generous for whole-file sends
)

// Writer sequences primitive writes onto an underlying io.Writer using
// the wire's length-prefixed encoding.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter wraps w. Buffering is the caller's responsibility (callers
// typically wrap the connection in a bufio.Writer themselves).
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// Err returns the first error encountered by any Write* call.
func (w *Writer) Err() error { return w.err }

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// String writes a length-prefixed (u32) UTF-8 string.
func (w *Writer) String(s string) {
	if w.err != nil {
		return
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.w.Write(lenBuf[:]); err != nil {
		w.fail(err)
		return
	}
	if _, err := io.WriteString(w.w, s); err != nil {
		w.fail(err)
	}
}

// Bytes writes an i32-length-prefixed byte buffer.
func (w *Writer) Bytes(b []byte) {
	if w.err != nil {
		return
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.w.Write(lenBuf[:]); err != nil {
		w.fail(err)
		return
	}
	if _, err := w.w.Write(b); err != nil {
		w.fail(err)
	}
}

// I32 writes a little-endian int32.
func (w *Writer) I32(v int32) {
	if w.err != nil {
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	if _, err := w.w.Write(buf[:]); err != nil {
		w.fail(err)
	}
}

// I64 writes a little-endian int64.
func (w *Writer) I64(v int64) {
	if w.err != nil {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	if _, err := w.w.Write(buf[:]); err != nil {
		w.fail(err)
	}
}

// Bool writes a single-byte boolean.
func (w *Writer) Bool(v bool) {
	if w.err != nil {
		return
	}
	b := byte(0)
	if v {
		b = 1
	}
	if _, err := w.w.Write([]byte{b}); err != nil {
		w.fail(err)
	}
}

// Byte writes a single raw byte (used for the sync message-type code).
func (w *Writer) Byte(b byte) {
	if w.err != nil {
		return
	}
	if _, err := w.w.Write([]byte{b}); err != nil {
		w.fail(err)
	}
}

// Reader sequences primitive reads off an underlying io.Reader.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r in buffered reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// String reads a length-prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if n > MaxStringLen {
		return "", fmt.Errorf("wire: string length %d exceeds max %d", n, MaxStringLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Bytes reads an i32-length-prefixed byte buffer.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if n > MaxBufferLen {
		return nil, fmt.Errorf("wire: buffer length %d exceeds max %d", n, MaxBufferLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// I32 reads a little-endian int32.
func (r *Reader) I32() (int32, error) {
	n, err := r.u32()
	return int32(n), err
}

// I64 reads a little-endian int64.
func (r *Reader) I64() (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// Bool reads a single-byte boolean.
func (r *Reader) Bool() (bool, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// Byte reads a single raw byte.
func (r *Reader) Byte() (byte, error) {
	return r.r.ReadByte()
}

func (r *Reader) u32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
