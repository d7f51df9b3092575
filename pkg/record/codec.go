package record

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// The binary layout is little-endian with strings written as a 7-bit varint
// byte length followed by UTF-8 bytes:
//
//	id u64 | name | aclCount i32 (-1 = none) | {identifier, scheme, perms i32}* |
//	mzxid i64 | czxid i64 | pzxid i64 | aversion i32 | version i32 | cversion i32 |
//	mtime i64 | ctime i64 | dataLen i32 (-1 = none) | data | childCount i32 | parentId u64

// maxFieldLength bounds every length prefix read from the wire.
const maxFieldLength = 1 << 30

var (
	ErrDataLength = errors.New("stat data length does not match data")
	ErrMalformed  = errors.New("malformed record")
)

// Reader is what Decode needs to read a record from a stream.
type Reader interface {
	io.Reader
	io.ByteReader
}

// AppendBinary appends the binary form of the record to b.
func (r *Record) AppendBinary(b []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Data == nil && r.Stat.DataLength != 0 || r.Data != nil && int(r.Stat.DataLength) != len(r.Data) {
		return nil, fmt.Errorf("record %d: %w (stat %d, data %d)", r.ID, ErrDataLength, r.Stat.DataLength, len(r.Data))
	}

	b = binary.LittleEndian.AppendUint64(b, r.ID)
	b = appendString(b, r.Name)

	// An empty ACL is written like a missing one so it reads back the same.
	if len(r.ACL) == 0 {
		b = appendInt32(b, -1)
	} else {
		b = appendInt32(b, int32(len(r.ACL)))
		for _, acl := range r.ACL {
			b = appendString(b, acl.Identifier)
			b = appendString(b, acl.Scheme)
			b = appendInt32(b, acl.Perms)
		}
	}

	b = appendInt64(b, r.Stat.Mzxid)
	b = appendInt64(b, r.Stat.Czxid)
	b = appendInt64(b, r.Stat.Pzxid)
	b = appendInt32(b, r.Stat.Aversion)
	b = appendInt32(b, r.Stat.Version)
	b = appendInt32(b, r.Stat.Cversion)
	b = appendInt64(b, r.Stat.Mtime)
	b = appendInt64(b, r.Stat.Ctime)

	if r.Data == nil {
		b = appendInt32(b, -1)
	} else {
		b = appendInt32(b, int32(len(r.Data)))
		b = append(b, r.Data...)
	}

	b = appendInt32(b, r.Stat.NumChildren)
	b = binary.LittleEndian.AppendUint64(b, r.ParentID)
	return b, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *Record) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(nil)
}

// WriteTo implements io.WriterTo.
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	b, err := r.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The whole input must
// be consumed by exactly one record.
func (r *Record) UnmarshalBinary(data []byte) error {
	rd := bytes.NewReader(data)
	decoded, err := Decode(rd)
	if err != nil {
		return err
	}
	if rd.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, rd.Len())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ID = decoded.ID
	r.Name = decoded.Name
	r.ParentID = decoded.ParentID
	r.Data = decoded.Data
	r.ACL = decoded.ACL
	r.Stat = decoded.Stat
	return nil
}

// Decode reads one record from rd. An ACL count of zero decodes as no ACL.
func Decode(rd Reader) (*Record, error) {
	d := decoder{rd: rd}
	r := &Record{}

	r.ID = d.uint64()
	r.Name = d.string()

	aclCount := d.int32()
	if aclCount < -1 {
		d.fail(fmt.Errorf("%w: acl count %d", ErrMalformed, aclCount))
	}
	if aclCount > 0 && d.err == nil {
		r.ACL = make([]ACL, 0, min(int(aclCount), 64))
		for i := int32(0); i < aclCount && d.err == nil; i++ {
			var acl ACL
			acl.Identifier = d.string()
			acl.Scheme = d.string()
			acl.Perms = d.int32()
			r.ACL = append(r.ACL, acl)
		}
	}

	r.Stat.Mzxid = d.int64()
	r.Stat.Czxid = d.int64()
	r.Stat.Pzxid = d.int64()
	r.Stat.Aversion = d.int32()
	r.Stat.Version = d.int32()
	r.Stat.Cversion = d.int32()
	r.Stat.Mtime = d.int64()
	r.Stat.Ctime = d.int64()

	dataLen := d.int32()
	switch {
	case dataLen < -1:
		d.fail(fmt.Errorf("%w: data length %d", ErrMalformed, dataLen))
	case dataLen >= 0:
		r.Data = d.bytes(int(dataLen))
		r.Stat.DataLength = dataLen
	}

	r.Stat.NumChildren = d.int32()
	r.ParentID = d.uint64()

	if d.err != nil {
		return nil, d.err
	}
	return r, nil
}

// NewReader wraps rd so it can be passed to Decode.
func NewReader(rd io.Reader) Reader {
	if r, ok := rd.(Reader); ok {
		return r
	}
	return bufio.NewReader(rd)
}

func appendInt32(b []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(v))
}

func appendInt64(b []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(b, uint64(v))
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

// decoder keeps the first error and turns every later read into a no-op.
type decoder struct {
	rd  Reader
	err error
	buf [8]byte
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return nil
	}
	if _, err := io.ReadFull(d.rd, d.buf[:n]); err != nil {
		d.fail(unexpectedEOF(err))
		return nil
	}
	return d.buf[:n]
}

func (d *decoder) uint64() uint64 {
	b := d.read(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) int64() int64 {
	return int64(d.uint64())
}

func (d *decoder) int32() int32 {
	b := d.read(4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n > maxFieldLength {
		d.fail(fmt.Errorf("%w: field length %d", ErrMalformed, n))
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.rd, b); err != nil {
		d.fail(unexpectedEOF(err))
		return nil
	}
	return b
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	n, err := binary.ReadUvarint(d.rd)
	if err != nil {
		d.fail(unexpectedEOF(err))
		return ""
	}
	if n > math.MaxInt32 {
		d.fail(fmt.Errorf("%w: string length %d", ErrMalformed, n))
		return ""
	}
	return string(d.bytes(int(n)))
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
