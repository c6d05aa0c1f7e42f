package compressor

import (
	"runtime"

	"github.com/klauspost/compress/zstd"

	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

const (
	// 每个压缩包的首字节标记负载是否经过压缩，
	// 低于阈值的小包原样存储，解压端据此直接返回。
	markRaw  byte = 0
	markZstd byte = 1
)

// ZstdCompressor 基于 github.com/klauspost/compress/zstd 的压缩实现。
//
// 它持有独立的 encoder/decoder 实例，生命周期由调用方决定。
// 输出格式为 1 字节标记 + 负载，因此设置了 minCompressSize 后仍可对称解压。
type ZstdCompressor struct {
	enc             *zstd.Encoder
	dec             *zstd.Decoder
	minCompressSize int
}

var _ Compressor = (*ZstdCompressor)(nil)

// NewZstdCompressor 创建一个 ZstdCompressor，默认并发度为 GOMAXPROCS。
func NewZstdCompressor(opts ...Option) (*ZstdCompressor, error) {
	cfg := options{level: zstd.SpeedDefault}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.concurrency <= 0 {
		cfg.concurrency = runtime.GOMAXPROCS(0)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithZeroFrames(true),
		zstd.WithEncoderConcurrency(cfg.concurrency),
		zstd.WithEncoderLevel(cfg.level),
	)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(cfg.concurrency))
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &ZstdCompressor{
		enc:             enc,
		dec:             dec,
		minCompressSize: cfg.minCompressSize,
	}, nil
}

type options struct {
	concurrency     int
	minCompressSize int
	level           zstd.EncoderLevel
}

// Option 配置 ZstdCompressor。
type Option func(*options)

// WithConcurrency 指定 zstd 编解码并发度，<= 0 表示使用 GOMAXPROCS。
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithMinCompressSize 设置触发压缩的最小字节数，更小的负载原样存储。
func WithMinCompressSize(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.minCompressSize = n
	}
}

// WithLevel 设置压缩等级。
func WithLevel(level zstd.EncoderLevel) Option {
	return func(o *options) { o.level = level }
}

// Compress 实现 Compressor 接口。
func (c *ZstdCompressor) Compress(dst, src []byte) ([]byte, error) {
	if c == nil || c.enc == nil {
		return nil, zstd.ErrEncoderClosed
	}
	dst = dst[:0]
	if c.minCompressSize > 0 && len(src) < c.minCompressSize {
		dst = append(dst, markRaw)
		return append(dst, src...), nil
	}
	dst = append(dst, markZstd)
	return c.enc.EncodeAll(src, dst), nil
}

// Decompress 实现 Compressor 接口。
func (c *ZstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	if c == nil || c.dec == nil {
		return nil, zstd.ErrDecoderClosed
	}
	if len(src) == 0 {
		return nil, merr.WrapErrStreamCorrupt("empty compressed packet")
	}
	switch src[0] {
	case markRaw:
		return append(dst[:0], src[1:]...), nil
	case markZstd:
		return c.dec.DecodeAll(src[1:], dst[:0])
	default:
		return nil, merr.WrapErrStreamCorrupt("unknown compression mark")
	}
}

// Close 释放内部 encoder/decoder 持有的资源。
// 再次使用已关闭实例将返回 ErrEncoderClosed/ErrDecoderClosed。
func (c *ZstdCompressor) Close() {
	if c == nil {
		return
	}
	if c.enc != nil {
		_ = c.enc.Close()
		c.enc = nil
	}
	if c.dec != nil {
		c.dec.Close()
		c.dec = nil
	}
}
