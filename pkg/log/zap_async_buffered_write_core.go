// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package log

import (
	"context"
	"time"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/lk2023060901/danmu-garden-netser/pkg/metrics"
)

var _ zapcore.Core = (*asyncCore)(nil)

// asyncCore 把编码后的日志放入队列，由后台协程写入 zapcore.BufferedWriteSyncer。
// 队列已满时低于 nonDroppable 级别的日志最多等待 dropTimeout，之后丢弃。
type asyncCore struct {
	zapcore.LevelEnabler

	enc          zapcore.Encoder
	out          *zapcore.BufferedWriteSyncer
	shared       *asyncShared
	dropTimeout  time.Duration
	nonDroppable zapcore.Level
	maxBytes     int
}

// asyncShared 是同一输出上所有 With 派生 core 共用的队列与后台协程。
type asyncShared struct {
	pending     chan *pendingEntry
	cancel      context.CancelFunc
	done        chan struct{}
	stopTimeout time.Duration
}

type pendingEntry struct {
	buf   *buffer.Buffer
	level zapcore.Level
}

func newAsyncCore(cfg *Config, enc zapcore.Encoder, ws zapcore.WriteSyncer, enab zapcore.LevelEnabler) *asyncCore {
	nonDroppable, _ := zapcore.ParseLevel(cfg.AsyncWriteNonDroppableLevel)
	ctx, cancel := context.WithCancel(context.Background())
	c := &asyncCore{
		LevelEnabler: enab,
		enc:          enc,
		out: &zapcore.BufferedWriteSyncer{
			WS:            ws,
			Size:          cfg.AsyncWriteBufferSize,
			FlushInterval: cfg.AsyncWriteFlushInterval,
		},
		shared: &asyncShared{
			pending:     make(chan *pendingEntry, cfg.AsyncWritePendingLength),
			cancel:      cancel,
			done:        make(chan struct{}),
			stopTimeout: cfg.AsyncWriteStopTimeout,
		},
		dropTimeout:  cfg.AsyncWriteDroppedTimeout,
		nonDroppable: nonDroppable,
		maxBytes:     cfg.AsyncWriteMaxBytesPerLog,
	}
	go c.background(ctx)
	return c
}

func (c *asyncCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.enc = withFields(c.enc, fields)
	return &clone
}

func (c *asyncCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write 只负责入队，不保证返回时已经写出。
func (c *asyncCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	n := buf.Len()
	if n == 0 {
		buf.Free()
		return nil
	}
	item := &pendingEntry{buf: buf, level: ent.Level}
	if ent.Level >= c.nonDroppable {
		c.shared.pending <- item
		c.enqueued(n)
		return nil
	}
	timer := time.NewTimer(c.dropTimeout)
	defer timer.Stop()
	select {
	case c.shared.pending <- item:
		c.enqueued(n)
	case <-timer.C:
		metrics.LoggingDroppedWrites.Inc()
		buf.Free()
	}
	return nil
}

func (c *asyncCore) enqueued(n int) {
	metrics.LoggingPendingWriteLength.Inc()
	metrics.LoggingPendingWriteBytes.Add(float64(n))
}

func (c *asyncCore) Sync() error {
	return c.out.Sync()
}

func (c *asyncCore) background(ctx context.Context) {
	defer close(c.shared.done)
	for {
		select {
		case <-ctx.Done():
			c.drain()
			return
		case item := <-c.shared.pending:
			c.consume(item)
		}
	}
}

func (c *asyncCore) consume(item *pendingEntry) {
	n := item.buf.Len()
	metrics.LoggingPendingWriteLength.Dec()
	metrics.LoggingPendingWriteBytes.Sub(float64(n))
	if _, err := c.out.Write(c.truncate(item.buf.Bytes())); err != nil {
		metrics.LoggingIOFailure.Inc()
	}
	item.buf.Free()
	if item.level > zapcore.ErrorLevel {
		_ = c.out.Sync()
	}
}

// truncate 把超长日志截到 maxBytes，保留原来的结尾字节（通常是换行）。
func (c *asyncCore) truncate(b []byte) []byte {
	if len(b) <= c.maxBytes {
		return b
	}
	metrics.LoggingTruncatedWrites.Inc()
	metrics.LoggingTruncatedWriteBytes.Add(float64(len(b) - c.maxBytes))
	end := b[len(b)-1]
	b = b[:c.maxBytes]
	b[len(b)-1] = end
	return b
}

// drain 在 stopTimeout 内写出队列中剩余的日志，然后停止缓冲输出。
func (c *asyncCore) drain() {
	deadline := time.After(c.shared.stopTimeout)
	for {
		select {
		case item := <-c.shared.pending:
			c.consume(item)
			continue
		case <-deadline:
		default:
		}
		if err := c.out.Stop(); err != nil {
			metrics.LoggingIOFailure.Inc()
		}
		return
	}
}

// Stop 停止后台协程并等待剩余日志写出，可重复调用。
func (c *asyncCore) Stop() {
	c.shared.cancel()
	<-c.shared.done
}
