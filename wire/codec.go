package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// ErrShortMessage is returned when a typed message's payload ends before a
// field that the tag's encoding requires.
var ErrShortMessage = errors.New("wire: message payload truncated")

// Encoder accumulates a typed message's field-by-field encoding. Fixed-width
// integers are little-endian; byte vectors and strings are u32-length
// prefixed; sequences are u32-count prefixed; optionals are a u8
// present-flag; enums are written at the smallest fixed width that fits.
type Encoder struct {
	buf bytes.Buffer
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

func (e *Encoder) U8(v uint8)   { e.buf.WriteByte(v) }
func (e *Encoder) Bool(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

func (e *Encoder) U16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) U64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *Encoder) I32(v int32) { e.U32(uint32(v)) }
func (e *Encoder) I64(v int64) { e.U64(uint64(v)) }

// ByteVec writes a u32 length followed by the raw bytes.
func (e *Encoder) ByteVec(v []byte) {
	e.U32(uint32(len(v)))
	e.buf.Write(v)
}

// String writes a u32 length followed by UTF-8 bytes.
func (e *Encoder) String(v string) {
	e.U32(uint32(len(v)))
	e.buf.WriteString(v)
}

// Seq writes a u32 count; the caller writes n elements via fn.
func (e *Encoder) Seq(n int, fn func(i int)) {
	e.U32(uint32(n))
	for i := 0; i < n; i++ {
		fn(i)
	}
}

// Decoder walks a byte slice field by field, matching Encoder's layout.
type Decoder struct {
	r   *bytes.Reader
	err error
}

func NewDecoder(payload []byte) *Decoder {
	return &Decoder{r: bytes.NewReader(payload)}
}

// Err returns the first error encountered, if any, once decoding is done.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) U8() uint8 {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail(ErrShortMessage)
		return 0
	}
	return b
}

func (d *Decoder) Bool() bool { return d.U8() != 0 }

func (d *Decoder) U16() uint16 {
	var b [2]byte
	if !d.readExact(b[:]) {
		return 0
	}
	return binary.LittleEndian.Uint16(b[:])
}

func (d *Decoder) U32() uint32 {
	var b [4]byte
	if !d.readExact(b[:]) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (d *Decoder) U64() uint64 {
	var b [8]byte
	if !d.readExact(b[:]) {
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (d *Decoder) I32() int32 { return int32(d.U32()) }
func (d *Decoder) I64() int64 { return int64(d.U64()) }

func (d *Decoder) readExact(b []byte) bool {
	if d.err != nil {
		return false
	}
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.fail(ErrShortMessage)
		return false
	}
	return true
}

func (d *Decoder) ByteVec() []byte {
	n := d.U32()
	if d.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if !d.readExact(buf) {
		return nil
	}
	return buf
}

func (d *Decoder) String() string {
	b := d.ByteVec()
	if d.err != nil {
		return ""
	}
	return string(b)
}

// Seq reads a u32 count and invokes fn once per element.
func (d *Decoder) Seq(fn func(i int)) {
	n := d.U32()
	if d.err != nil {
		return
	}
	for i := 0; i < int(n); i++ {
		if d.err != nil {
			return
		}
		fn(i)
	}
}
