// Package replay 把对象快照按帧记录到字节流中，并按相同顺序回放。
//
// 流格式：
//
//	header: magic "NSRP" | uint16 格式版本 | uint8 标志 | uint32 元数据长度 | 元数据 (protobuf Struct)
//	frame:  uint32 负载长度 | 负载
//
// 所有整数均为大端序。负载由 serializer.Serializer 产生，设置压缩标志时再经 Compressor 压缩，
// 设置加密标志时最后经 Encryptor 加密，关联数据为 magic 与 8 字节帧序号。
package replay

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lk2023060901/danmu-garden-netser/internal/network/compressor"
	"github.com/lk2023060901/danmu-garden-netser/internal/network/crypto"
	"github.com/lk2023060901/danmu-garden-netser/internal/network/framer"
	"github.com/lk2023060901/danmu-garden-netser/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-netser/pkg/log"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

const (
	FormatVersion uint16 = 1

	flagCompressed uint8 = 1 << 0
	flagEncrypted  uint8 = 1 << 1

	headerSize = 4 + 2 + 1 + 4
	// DefaultMaxFrameSize 是单帧负载的默认上限。
	DefaultMaxFrameSize = 64 << 20
)

var magic = [4]byte{'N', 'S', 'R', 'P'}

var framePool bytebufferpool.Pool

type options struct {
	compressor   compressor.Compressor
	encryptor    crypto.Encryptor
	metadata     map[string]any
	maxFrameSize int
}

// Option 配置 Recorder 与 Player。
type Option func(*options)

// WithCompressor 为每帧负载启用压缩，回放端必须使用兼容的 Compressor。
func WithCompressor(c compressor.Compressor) Option {
	return func(o *options) { o.compressor = c }
}

// WithEncryptor 对每帧负载加密并签名，回放端必须使用相同的密钥。
func WithEncryptor(e crypto.Encryptor) Option {
	return func(o *options) { o.encryptor = e }
}

// WithMetadata 把元数据写入文件头，仅对 Recorder 生效。
// 取值必须能被 structpb.NewValue 接受。
func WithMetadata(md map[string]any) Option {
	return func(o *options) { o.metadata = md }
}

// WithMaxFrameSize 限制回放时单帧负载的字节数。
func WithMaxFrameSize(n int) Option {
	return func(o *options) { o.maxFrameSize = n }
}

func newOptions(opts []Option) options {
	o := options{maxFrameSize: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func frameAAD(index int) []byte {
	aad := make([]byte, 0, len(magic)+8)
	aad = append(aad, magic[:]...)
	return binary.BigEndian.AppendUint64(aad, uint64(index))
}

// Recorder 顺序写入回放帧，不可并发使用。
type Recorder struct {
	w      io.Writer
	s      serializer.Serializer
	c      compressor.Compressor
	e      crypto.Encryptor
	f      *framer.LengthPrefixedFramer
	frames int
	bytes  int64
}

// NewRecorder 写入文件头并返回 Recorder。
func NewRecorder(w io.Writer, s serializer.Serializer, opts ...Option) (*Recorder, error) {
	if w == nil || s == nil {
		return nil, merr.WrapErrInvalidArgument("replay recorder needs a writer and a serializer")
	}
	o := newOptions(opts)

	md, err := structpb.NewStruct(o.metadata)
	if err != nil {
		return nil, merr.WrapErrInvalidArgument(err.Error())
	}
	raw, err := serializer.ProtoSerializer{}.Marshal(md)
	if err != nil {
		return nil, err
	}

	var flags uint8
	if o.compressor != nil {
		flags |= flagCompressed
	}
	if o.encryptor != nil {
		flags |= flagEncrypted
	}
	hdr := make([]byte, 0, headerSize+len(raw))
	hdr = append(hdr, magic[:]...)
	hdr = binary.BigEndian.AppendUint16(hdr, FormatVersion)
	hdr = append(hdr, flags)
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(len(raw)))
	hdr = append(hdr, raw...)
	if _, err := w.Write(hdr); err != nil {
		return nil, errors.Wrap(err, "write replay header")
	}
	log.Debug("replay recorder opened",
		log.FieldComponent("replay"),
		zap.Bool("compressed", o.compressor != nil),
		zap.Bool("encrypted", o.encryptor != nil),
		zap.Int("metadata", len(o.metadata)))
	return &Recorder{
		w:     w,
		s:     s,
		c:     o.compressor,
		e:     o.encryptor,
		f:     framer.NewLengthPrefixedFramer(uint32(o.maxFrameSize)),
		bytes: int64(len(hdr)),
	}, nil
}

// Record 序列化 v 并写入一帧。
func (r *Recorder) Record(v any) error {
	payload, err := r.s.Marshal(v)
	if err != nil {
		return err
	}

	bb := framePool.Get()
	defer framePool.Put(bb)
	if r.c != nil {
		bb.B, err = r.c.Compress(bb.B[:0], payload)
		if err != nil {
			return errors.Wrap(err, "compress replay frame")
		}
		payload = bb.B
	}
	if r.e != nil {
		payload, err = r.e.Encrypt(payload, frameAAD(r.frames))
		if err != nil {
			return errors.Wrapf(err, "seal replay frame %d", r.frames)
		}
	}
	if err := r.f.WriteFrame(r.w, payload); err != nil {
		return errors.Wrapf(err, "replay frame %d", r.frames)
	}
	r.frames++
	r.bytes += int64(4 + len(payload))
	return nil
}

// Frames 返回已写入的帧数。
func (r *Recorder) Frames() int {
	return r.frames
}

// Bytes 返回已写入的总字节数，包括文件头。
func (r *Recorder) Bytes() int64 {
	return r.bytes
}

// Player 顺序读取 Recorder 写入的帧。
type Player struct {
	r        io.Reader
	s        serializer.Serializer
	c        compressor.Compressor
	e        crypto.Encryptor
	f        *framer.LengthPrefixedFramer
	metadata map[string]any
	frames   int
	plain    []byte
}

// NewPlayer 读取并校验文件头。
func NewPlayer(r io.Reader, s serializer.Serializer, opts ...Option) (*Player, error) {
	if r == nil || s == nil {
		return nil, merr.WrapErrInvalidArgument("replay player needs a reader and a serializer")
	}
	o := newOptions(opts)

	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, merr.WrapErrStreamCorrupt("short replay header")
	}
	if [4]byte(hdr[:4]) != magic {
		return nil, merr.WrapErrStreamCorrupt("not a replay stream")
	}
	if v := binary.BigEndian.Uint16(hdr[4:6]); v != FormatVersion {
		return nil, merr.WrapErrStreamCorrupt("unsupported replay format version")
	}
	compressed := hdr[6]&flagCompressed != 0
	if compressed && o.compressor == nil {
		return nil, merr.WrapErrInvalidArgument("replay stream is compressed but no compressor is configured")
	}
	encrypted := hdr[6]&flagEncrypted != 0
	if encrypted && o.encryptor == nil {
		return nil, merr.WrapErrInvalidArgument("replay stream is encrypted but no encryptor is configured")
	}
	mdLen := binary.BigEndian.Uint32(hdr[7:11])
	if int64(mdLen) > int64(o.maxFrameSize) {
		return nil, merr.WrapErrStreamCorrupt("replay metadata too large")
	}
	raw := make([]byte, mdLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, merr.WrapErrStreamCorrupt("short replay metadata")
	}
	md := &structpb.Struct{}
	if err := (serializer.ProtoSerializer{}).Unmarshal(raw, md); err != nil {
		return nil, merr.WrapErrStreamCorrupt("bad replay metadata")
	}

	p := &Player{
		r:        r,
		s:        s,
		f:        framer.NewLengthPrefixedFramer(uint32(o.maxFrameSize)),
		metadata: md.AsMap(),
	}
	if compressed {
		p.c = o.compressor
	}
	if encrypted {
		p.e = o.encryptor
	}
	return p, nil
}

// Metadata 返回文件头中的元数据。
func (p *Player) Metadata() map[string]any {
	return p.metadata
}

// Next 读取下一帧并反序列化到 v。流在帧边界结束时返回 io.EOF。
func (p *Player) Next(v any) error {
	payload, err := p.f.ReadFrame(p.r)
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		log.RatedWarn(1, "bad replay frame",
			log.FieldComponent("replay"),
			zap.Int("frame", p.frames),
			zap.Error(err))
		return err
	}

	if p.e != nil {
		payload, err = p.e.Decrypt(payload, frameAAD(p.frames))
		if err != nil {
			return merr.WrapErrStreamCorrupt(fmt.Sprintf("replay frame %d failed verification: %v", p.frames, err))
		}
	}
	if p.c != nil {
		p.plain, err = p.c.Decompress(p.plain, payload)
		if err != nil {
			return errors.Wrapf(err, "decompress replay frame %d", p.frames)
		}
		payload = p.plain
	}
	if err := p.s.Unmarshal(payload, v); err != nil {
		return err
	}
	p.frames++
	return nil
}

// Frames 返回已回放的帧数。
func (p *Player) Frames() int {
	return p.frames
}
