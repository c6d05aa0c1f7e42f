package framer

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// Framer 抽象了基于长度前缀的打包/解包能力。
//
// 约定：一帧数据的格式为 4 字节大端无符号整型（负载长度）+ 负载。
type Framer interface {
	// WriteFrame 将 payload 打包为一帧并写入到 w 中。
	WriteFrame(w io.Writer, payload []byte) error

	// ReadFrame 从 r 中读取一帧负载。返回的切片在下一次 ReadFrame 前有效。
	// 流恰好在帧边界结束时返回 io.EOF。
	ReadFrame(r io.Reader) ([]byte, error)
}

// LengthPrefixedFramer 使用长度前缀（4 字节大端）作为帧边界，不可并发使用。
type LengthPrefixedFramer struct {
	// MaxFrameSize 为允许的最大负载长度，单位字节。
	// 为 0 时使用默认值 defaultMaxFrameSize。
	MaxFrameSize uint32

	buf []byte
}

const defaultMaxFrameSize uint32 = 16 * 1024 * 1024 // 16MB

var _ Framer = (*LengthPrefixedFramer)(nil)

// NewLengthPrefixedFramer 创建一个长度前缀帧编码器。
// maxFrameSize 为 0 时使用默认值。
func NewLengthPrefixedFramer(maxFrameSize uint32) *LengthPrefixedFramer {
	if maxFrameSize == 0 {
		maxFrameSize = defaultMaxFrameSize
	}
	return &LengthPrefixedFramer{
		MaxFrameSize: maxFrameSize,
	}
}

// WriteFrame 将 payload 编码为长度前缀帧并一次写入。
func (f *LengthPrefixedFramer) WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(f.effectiveMaxSize()) {
		return merr.WrapErrInvalidArgument(fmt.Sprintf("frame size %d exceeds max %d", len(payload), f.effectiveMaxSize()))
	}

	f.buf = binary.BigEndian.AppendUint32(f.buf[:0], uint32(len(payload)))
	f.buf = append(f.buf, payload...)
	if _, err := w.Write(f.buf); err != nil {
		return errors.Wrap(err, "write frame")
	}
	return nil
}

// ReadFrame 从流中读取一帧负载。
func (f *LengthPrefixedFramer) ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	n, err := io.ReadFull(r, header[:])
	if err == io.EOF && n == 0 {
		return nil, io.EOF
	}
	if err != nil {
		return nil, merr.WrapErrStreamCorrupt("truncated frame header")
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > f.effectiveMaxSize() {
		return nil, merr.WrapErrStreamCorrupt(fmt.Sprintf("frame size %d exceeds max %d", length, f.effectiveMaxSize()))
	}

	if cap(f.buf) < int(length) {
		f.buf = make([]byte, int(length))
	}
	f.buf = f.buf[:length]
	if _, err := io.ReadFull(r, f.buf); err != nil {
		return nil, merr.WrapErrStreamCorrupt(fmt.Sprintf("truncated frame body, want %d bytes", length))
	}
	return f.buf, nil
}

func (f *LengthPrefixedFramer) effectiveMaxSize() uint32 {
	if f == nil || f.MaxFrameSize == 0 {
		return defaultMaxFrameSize
	}
	return f.MaxFrameSize
}
