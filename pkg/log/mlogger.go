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
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MLogger 是 zap.Logger 的封装，可以绑定按组共享的限流器。
type MLogger struct {
	*zap.Logger
	rl atomic.Pointer[limiterBox]
}

// With 返回携带额外字段的新 MLogger，继承当前绑定的限流器。字段在首次输出时才编码。
func (l *MLogger) With(fields ...zap.Field) *MLogger {
	child := &MLogger{Logger: l.Logger.WithOptions(lazyWith(fields))}
	if box := l.rl.Load(); box != nil {
		child.rl.Store(box)
	}
	return child
}

func lazyWith(fields []zap.Field) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return NewLazyWith(core, fields)
	})
}

// WithRateGroup 绑定名为 groupName 的限流器，同名组共享额度。
func (l *MLogger) WithRateGroup(groupName string, creditPerSecond, maxBalance float64) *MLogger {
	l.rl.Store(&limiterBox{namedLimiter(groupName, creditPerSecond, maxBalance)})
	return l
}

func (l *MLogger) limiter() RateLimiter {
	if box := l.rl.Load(); box != nil {
		return box.RateLimiter
	}
	return R()
}

func (l *MLogger) rated(level zapcore.Level, cost float64, msg string, fields []zap.Field) bool {
	if !l.limiter().CheckCredit(cost) {
		return false
	}
	if ce := l.WithOptions(zap.AddCallerSkip(2)).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
	return true
}

func (l *MLogger) RatedDebug(cost float64, msg string, fields ...zap.Field) bool {
	return l.rated(zapcore.DebugLevel, cost, msg, fields)
}

func (l *MLogger) RatedInfo(cost float64, msg string, fields ...zap.Field) bool {
	return l.rated(zapcore.InfoLevel, cost, msg, fields)
}

// RatedWarn 在 Warn 级别输出限流日志，返回 true 表示额度足够。
func (l *MLogger) RatedWarn(cost float64, msg string, fields ...zap.Field) bool {
	return l.rated(zapcore.WarnLevel, cost, msg, fields)
}
