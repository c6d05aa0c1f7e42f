package netser

import (
	"github.com/lk2023060901/danmu-garden-netser/pkg/log"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/conc"
)

type options struct {
	checked  bool
	maxDepth int
	logger   *log.MLogger
	pool     *conc.Pool[any]
	metrics  bool
}

func defaultOptions() *options {
	return &options{
		checked: true,
	}
}

// Option 配置 Registry。
type Option func(*options)

// WithChecked 控制每次调用结束时的访问/离开配对检查以及 Unmarshal 的尾部数据检查。
// 重复首次访问检查不受此选项影响，总是开启。
func WithChecked(v bool) Option {
	return func(o *options) {
		o.checked = v
	}
}

// WithMaxDepth 限制嵌套首次访问的深度，0 表示不限制。
func WithMaxDepth(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxDepth = n
	}
}

func WithLogger(l *log.MLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPool 指定 GenerateAsync 使用的协程池，默认使用 conc.DefaultPool。
func WithPool(p *conc.Pool[any]) Option {
	return func(o *options) {
		o.pool = p
	}
}

// WithMetrics 开启 Prometheus 指标上报，指标需通过 metrics.Register 注册。
func WithMetrics(v bool) Option {
	return func(o *options) {
		o.metrics = v
	}
}

type rootInfo struct {
	version    int32
	minVersion int32
}

// RootOption 配置根类型。
type RootOption func(*rootInfo)

// WithVersion 设置根类型的当前版本与可接受的最低版本。
func WithVersion(current, min int32) RootOption {
	return func(info *rootInfo) {
		info.version = current
		info.minVersion = min
	}
}
