package wire

import (
	"encoding/binary"
	"math"
)

// Writer 以追加方式写入字节流，底层切片可由调用方提供以便复用。
type Writer struct {
	buf []byte
}

// NewWriter 创建写入 buf[len(buf):] 的 Writer。
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Bytes 返回已写入的全部数据，返回值与 Writer 共享底层存储。
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset 清空已写入内容，保留容量。
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// Write 实现 io.Writer，总是成功。
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteInt8(v int8) {
	w.buf = append(w.buf, uint8(v))
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

func (w *Writer) WriteComplex64(v complex64) {
	w.WriteFloat32(real(v))
	w.WriteFloat32(imag(v))
}

func (w *Writer) WriteComplex128(v complex128) {
	w.WriteFloat64(real(v))
	w.WriteFloat64(imag(v))
}

// WriteLen 写入 int32 长度或计数。
func (w *Writer) WriteLen(n int) {
	w.WriteInt32(int32(n))
}

// WriteRaw 原样写入 p，不带长度前缀。
func (w *Writer) WriteRaw(p []byte) {
	w.buf = append(w.buf, p...)
}

// WriteBytes 写入长度前缀与字节序列。
func (w *Writer) WriteBytes(p []byte) {
	w.WriteLen(len(p))
	w.buf = append(w.buf, p...)
}
