package scancache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"

	"google.golang.org/protobuf/encoding/protowire"
)

const formatVersion = 1

var (
	ErrRecordTooLarge = errors.New("cache record > 65535 bytes")
	ErrBadRecord      = errors.New("malformed cache record")
)

// header field numbers
const (
	headerVersion   protowire.Number = 1
	headerTimestamp protowire.Number = 2
	headerRoot      protowire.Number = 3
	headerAlgorithm protowire.Number = 4
)

// entry field numbers
const (
	entryPath       protowire.Number = 1
	entrySize       protowire.Number = 2
	entryModTime    protowire.Number = 3
	entryHash       protowire.Number = 4
	entryIsDir      protowire.Number = 5
	entryChildCount protowire.Number = 6
)

type header struct {
	Version   uint64
	Timestamp int64
	Root      string
	Algorithm string
}

func (h *header) marshal(b []byte) []byte {
	b = protowire.AppendTag(b, headerVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, h.Version)
	b = protowire.AppendTag(b, headerTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(h.Timestamp))
	b = protowire.AppendTag(b, headerRoot, protowire.BytesType)
	b = protowire.AppendString(b, h.Root)
	b = protowire.AppendTag(b, headerAlgorithm, protowire.BytesType)
	b = protowire.AppendString(b, h.Algorithm)
	return b
}

func (h *header) unmarshal(b []byte) error {
	*h = header{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == headerVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			h.Version = v
			return n, nil
		case num == headerTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			h.Timestamp = protowire.DecodeZigZag(v)
			return n, nil
		case num == headerRoot && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			h.Root = v
			return n, nil
		case num == headerAlgorithm && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			h.Algorithm = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func marshalEntry(b []byte, e *Entry) []byte {
	b = protowire.AppendTag(b, entryPath, protowire.BytesType)
	b = protowire.AppendString(b, e.Path)
	b = protowire.AppendTag(b, entrySize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Size))
	b = protowire.AppendTag(b, entryModTime, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.ModTime))
	if len(e.Hash) > 0 {
		b = protowire.AppendTag(b, entryHash, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Hash)
	}
	if e.IsDir {
		b = protowire.AppendTag(b, entryIsDir, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if e.ChildCount > 0 {
		b = protowire.AppendTag(b, entryChildCount, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.ChildCount))
	}
	return b
}

func unmarshalEntry(b []byte, e *Entry) error {
	*e = Entry{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == entryPath && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.Path = v
			return n, nil
		case num == entrySize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Size = int64(v)
			return n, nil
		case num == entryModTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.ModTime = protowire.DecodeZigZag(v)
			return n, nil
		case num == entryHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				e.Hash = append([]byte(nil), v...)
			}
			return n, nil
		case num == entryIsDir && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.IsDir = protowire.DecodeBool(v)
			return n, nil
		case num == entryChildCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.ChildCount = int(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return err
	}
	if e.Path == "" || e.Size < 0 || e.ChildCount < 0 {
		return fmt.Errorf("%w: entry %q", ErrBadRecord, e.Path)
	}
	return nil
}

// consumeFields walks the fields of one message. field returns the length of
// the value it consumed, or a negative protowire error code.
func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrBadRecord, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrBadRecord, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

// recordWriter frames each record with a little-endian uint16 length.
type recordWriter struct {
	w   io.Writer
	buf []byte
}

func newRecordWriter(w io.Writer, h *header) (*recordWriter, error) {
	rw := &recordWriter{
		w:   w,
		buf: make([]byte, 0, 1024),
	}
	if err := rw.writeFrame(h.marshal(rw.buf[:0])); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *recordWriter) Write(e *Entry) error {
	rw.buf = marshalEntry(rw.buf[:0], e)
	return rw.writeFrame(rw.buf)
}

func (rw *recordWriter) writeFrame(data []byte) error {
	if len(data) >= 1<<16 {
		return ErrRecordTooLarge
	}
	var sizeBuf [2]byte
	binary.LittleEndian.PutUint16(sizeBuf[:], uint16(len(data)))
	if _, err := rw.w.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err := rw.w.Write(data)
	return err
}

type recordReader struct {
	r   io.Reader
	buf []byte
}

func newRecordReader(r io.Reader) (*recordReader, *header, error) {
	rr := &recordReader{
		r:   r,
		buf: make([]byte, 1024),
	}
	data, err := rr.readFrame()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, err
	}
	var h header
	if err := h.unmarshal(data); err != nil {
		return nil, nil, err
	}
	return rr, &h, nil
}

// readFrame returns io.EOF only at a clean record boundary.
func (rr *recordReader) readFrame() ([]byte, error) {
	var sizeBuf [2]byte
	if _, err := io.ReadFull(rr.r, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := int(binary.LittleEndian.Uint16(sizeBuf[:]))
	if cap(rr.buf) < size {
		rr.buf = make([]byte, max(size, cap(rr.buf)*2))
	}
	buf := rr.buf[:size]
	if _, err := io.ReadFull(rr.r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// Iter yields entries until the end of the stream. A truncated or malformed
// record ends the iteration with an error.
func (rr *recordReader) Iter() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for {
			data, err := rr.readFrame()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Entry{}, err)
				return
			}
			var e Entry
			if err := unmarshalEntry(data, &e); err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}
