package io

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Buffer is the write side of an archive stream. Everything is written
// little-endian so that files move between hosts unchanged.
type Buffer []byte

func (p *Buffer) PutByte(v byte) {
	*p = append(*p, v)
}

func (p *Buffer) PutShort(v int16) {
	*p = binary.LittleEndian.AppendUint16(*p, uint16(v))
}

func (p *Buffer) PutLong(v int32) {
	*p = binary.LittleEndian.AppendUint32(*p, uint32(v))
}

func (p *Buffer) PutFloat(v float32) {
	*p = binary.LittleEndian.AppendUint32(*p, math.Float32bits(v))
}

func (p *Buffer) Put(data []byte) {
	*p = append(*p, data...)
}

// PutName writes a fixed-width, zero padded name.
func (p *Buffer) PutName(name [NameLength]byte) {
	*p = append(*p, name[:]...)
}

// PutString writes a string prefixed with its length as a short.
func (p *Buffer) PutString(s string) error {
	if len(s) > math.MaxInt16 {
		return fmt.Errorf("string too long (%d bytes)", len(s))
	}
	p.PutShort(int16(len(s)))
	*p = append(*p, s...)
	return nil
}

func (p *Buffer) PutBool(v bool) {
	if v {
		p.PutByte(1)
		return
	}
	p.PutByte(0)
}

// Marshal appends fixed-layout values (numbers, arrays and structs of
// numbers) using binary.Write.
func (p *Buffer) Marshal(pieces ...interface{}) error {
	var buffer bytes.Buffer
	for _, piece := range pieces {
		err := binary.Write(&buffer, binary.LittleEndian, piece)
		if err != nil {
			return err
		}
	}

	*p = append(*p, buffer.Bytes()...)
	return nil
}

func (p Buffer) Len() int {
	return len(p)
}

const NameLength = 8

// UnderrunError is returned when fewer bytes remain than a read requires.
// Callers treat it as corrupt data.
type UnderrunError struct {
	Offset int
	Need   int
	Have   int
}

func (e *UnderrunError) Error() string {
	return fmt.Sprintf(
		"stream underrun at offset %d: need %d bytes, have %d",
		e.Offset,
		e.Need,
		e.Have,
	)
}

func IsUnderrun(err error) bool {
	var underrun *UnderrunError
	return errors.As(err, &underrun)
}

// Reader is a sequential cursor over an in-memory archive.
type Reader struct {
	data   []byte
	offset int

	// Version is the format version the stream is being decoded with. The
	// reader does not interpret it; record decoders consult it for fields
	// that were added in later versions.
	Version int32
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

func (r *Reader) Offset() int {
	return r.offset
}

// Rewind re-opens the stream from the start.
func (r *Reader) Rewind() {
	r.offset = 0
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, &UnderrunError{
			Offset: r.offset,
			Need:   n,
			Have:   r.Remaining(),
		}
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *Reader) GetByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) GetBool() (bool, error) {
	b, err := r.GetByte()
	return b != 0, err
}

func (r *Reader) GetShort() (int16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (r *Reader) GetLong() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) GetFloat() (float32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// GetBytes returns a copy of the next n bytes.
func (r *Reader) GetBytes(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *Reader) GetName() ([NameLength]byte, error) {
	var name [NameLength]byte
	b, err := r.take(NameLength)
	if err != nil {
		return name, err
	}
	copy(name[:], b)
	return name, nil
}

func (r *Reader) GetString() (string, error) {
	length, err := r.GetShort()
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", fmt.Errorf("negative string length %d at offset %d", length, r.offset-2)
	}
	b, err := r.take(int(length))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Unmarshal reads fixed-layout values written by Buffer.Marshal.
func (r *Reader) Unmarshal(pieces ...interface{}) error {
	for _, piece := range pieces {
		size := binary.Size(piece)
		if size < 0 {
			return fmt.Errorf("cannot unmarshal %T", piece)
		}

		b, err := r.take(size)
		if err != nil {
			return err
		}

		err = binary.Read(bytes.NewReader(b), binary.LittleEndian, piece)
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return &UnderrunError{Offset: r.offset - size, Need: size, Have: len(b)}
		}
		if err != nil {
			return err
		}
	}

	return nil
}
