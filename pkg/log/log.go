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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/uber/jaeger-client-go/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"gopkg.in/natefinch/lumberjack.v2"
)

// state 是进程级日志状态，logger 与 props 总是一起替换。
type state struct {
	// logger 不带调用栈偏移，供 Ctx/With 派生。
	logger *zap.Logger
	// skip 多跳过一层调用栈，供包级 Debug/Info/... 使用。
	skip  *zap.Logger
	props *ZapProperties
}

// RateLimiter 是限流日志使用的最小接口。
type RateLimiter interface {
	CheckCredit(delta float64) bool
}

type nopRateLimiter struct{}

func (nopRateLimiter) CheckCredit(float64) bool { return true }

type limiterBox struct{ RateLimiter }

var (
	current atomic.Pointer[state]
	limiter atomic.Pointer[limiterBox]
	// namedLimiters 按组名共享 MLogger.WithRateGroup 创建的限流器。
	namedMu       sync.Mutex
	namedLimiters = make(map[string]*utils.ReconfigurableRateLimiter)
)

func init() {
	lg, props, err := InitLogger(&Config{Level: getenvDefault("NETSER_LOG_LEVEL", "info"), Stdout: true})
	if err != nil {
		lg, props, _ = InitLogger(&Config{Level: "info", Stdout: true})
	}
	ReplaceGlobals(lg, props)
	configureRateLimiterFromEnv()
}

// InitLogger 按 cfg 创建 logger：File.Filename 非空时写入轮转文件，Stdout 为 true 时同时写标准输出，
// 两者都未开启时丢弃全部输出。
func InitLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	var outputs []zapcore.WriteSyncer
	if cfg.File.Filename != "" {
		lg, err := initFileLog(&cfg.File)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, zapcore.AddSync(lg))
	}
	if cfg.Stdout {
		stdout, _, err := zap.Open("stdout")
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, stdout)
	}
	return InitLoggerWithWriteSyncer(cfg, zap.CombineWriteSyncers(outputs...), opts...)
}

// InitTestLogger 创建把日志写入 t.Log 的 logger，zap 内部错误会令测试失败。
func InitTestLogger(t zaptest.TestingT, cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	writer := zaptest.NewTestingWriter(t)
	opts = append([]zap.Option{zap.ErrorOutput(writer.WithMarkFailed(true))}, opts...)
	return InitLoggerWithWriteSyncer(cfg, writer, opts...)
}

// InitLoggerWithWriteSyncer 使用给定输出创建 logger。Level 为空时取 info，trace 视为 debug。
func InitLoggerWithWriteSyncer(cfg *Config, output zapcore.WriteSyncer, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	text := strings.ToLower(cfg.Level)
	switch text {
	case "":
		text = "info"
	case "trace":
		text = "debug"
	}
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(text)); err != nil {
		return nil, nil, errors.Wrapf(err, "parse log level %q", cfg.Level)
	}
	var core zapcore.Core
	if cfg.AsyncWriteEnable {
		async := *cfg
		async.asyncDefaults()
		core = newAsyncCore(&async, newZapEncoder(cfg), output, level)
	} else {
		core = NewTextCore(newZapEncoder(cfg), output, level)
	}
	lg := zap.New(core, append(cfg.buildOptions(output), opts...)...)
	return lg, &ZapProperties{Core: core, Syncer: output, Level: level}, nil
}

func initFileLog(cfg *FileLogConfig) (*lumberjack.Logger, error) {
	logPath := filepath.Join(cfg.RootPath, cfg.Filename)
	if st, err := os.Stat(logPath); err == nil && st.IsDir() {
		return nil, errors.Newf("log file %s is a directory", logPath)
	}
	maxSize := cfg.MaxSize
	if maxSize == 0 {
		maxSize = defaultLogMaxSize
	}
	return &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxDays,
		LocalTime:  true,
	}, nil
}

// ReplaceGlobals 替换全局 logger，可并发调用。
func ReplaceGlobals(logger *zap.Logger, props *ZapProperties) {
	current.Store(&state{
		logger: logger,
		skip:   logger.WithOptions(zap.AddCallerSkip(1)),
		props:  props,
	})
}

// L 返回全局 logger。
func L() *zap.Logger {
	return current.Load().logger
}

// R 返回全局限流器，未开启限流时从不丢弃日志。
func R() RateLimiter {
	if box := limiter.Load(); box != nil {
		return box.RateLimiter
	}
	return nopRateLimiter{}
}

// Level 返回全局 logger 的动态级别。
func Level() zap.AtomicLevel {
	return current.Load().props.Level
}

// Sync 刷新缓冲的日志。
func Sync() error {
	return current.Load().logger.Sync()
}

// Shutdown 在进程退出前调用：停止全局 logger 的异步输出并刷新。
func Shutdown() {
	st := current.Load()
	st.props.Close()
	_ = st.logger.Sync()
}

func namedLimiter(group string, creditPerSecond, maxBalance float64) *utils.ReconfigurableRateLimiter {
	namedMu.Lock()
	defer namedMu.Unlock()
	if rl, ok := namedLimiters[group]; ok {
		rl.Update(creditPerSecond, maxBalance)
		return rl
	}
	rl := utils.NewRateLimiter(creditPerSecond, maxBalance)
	namedLimiters[group] = rl
	return rl
}

// configureRateLimiterFromEnv 读取 NETSER_LOG_RATE_* 环境变量配置全局限流：
//
//   - NETSER_LOG_RATE_ENABLE: 为 true 时开启，默认关闭。
//   - NETSER_LOG_RATE_CREDIT_PER_SECOND: 每秒恢复的额度，默认 1。
//   - NETSER_LOG_RATE_MAX_BALANCE: 额度上限，默认 60。
func configureRateLimiterFromEnv() {
	if !getenvBool("NETSER_LOG_RATE_ENABLE", false) {
		limiter.Store(&limiterBox{nopRateLimiter{}})
		return
	}
	credit := getenvFloat("NETSER_LOG_RATE_CREDIT_PER_SECOND", 1.0)
	maxBalance := getenvFloat("NETSER_LOG_RATE_MAX_BALANCE", 60.0)
	limiter.Store(&limiterBox{utils.NewRateLimiter(credit, maxBalance)})
}

func getenvDefault(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(getenvDefault(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(getenvDefault(key, ""), 64)
	if err != nil {
		return def
	}
	return f
}
