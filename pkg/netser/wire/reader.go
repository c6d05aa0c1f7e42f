package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// MaxLen 是流中允许出现的最大长度或计数。
const MaxLen = math.MaxInt32

// Reader 从字节切片中顺序读取。
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset 返回已读取的字节数。
func (r *Reader) Offset() int {
	return r.off
}

// Remaining 返回尚未读取的字节数。
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Reset 让 Reader 重新从 data 开头读取。
func (r *Reader) Reset(data []byte) {
	r.data = data
	r.off = 0
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, merr.WrapErrStreamEOF(r.off, n, r.Remaining())
	}
	p := r.data[r.off : r.off+n]
	r.off += n
	return p, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadUint8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, merr.WrapErrStreamCorrupt(fmt.Sprintf("bool byte %d at offset %d", b, r.off-1))
	}
}

func (r *Reader) ReadUint8() (uint8, error) {
	p, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

func (r *Reader) ReadComplex64() (complex64, error) {
	re, err := r.ReadFloat32()
	if err != nil {
		return 0, err
	}
	im, err := r.ReadFloat32()
	return complex(re, im), err
}

func (r *Reader) ReadComplex128() (complex128, error) {
	re, err := r.ReadFloat64()
	if err != nil {
		return 0, err
	}
	im, err := r.ReadFloat64()
	return complex(re, im), err
}

// ReadLen 读取 int32 计数，并确认剩余数据至少能容纳 n*minElemSize 字节。
// minElemSize 为 0 时（例如零大小元素）只检查非负。
func (r *Reader) ReadLen(minElemSize int) (int, error) {
	at := r.off
	v, err := r.ReadInt32()
	if err != nil {
		return 0, err
	}
	n := int(v)
	if n < 0 {
		return 0, merr.WrapErrStreamCorrupt(fmt.Sprintf("negative length %d at offset %d", n, at))
	}
	if minElemSize > 0 && n > r.Remaining()/minElemSize {
		return 0, merr.WrapErrStreamCorrupt(
			fmt.Sprintf("length %d at offset %d exceeds remaining %d bytes", n, at, r.Remaining()))
	}
	return n, nil
}

// ReadRaw 读取 n 个字节，返回值与 Reader 共享底层存储。
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	return r.take(n)
}

// ReadBytes 读取长度前缀与字节序列，返回值为独立副本。
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadLen(1)
	if err != nil {
		return nil, err
	}
	p, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p)
	return out, nil
}
