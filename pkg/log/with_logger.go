package log

import (
	"context"

	"go.uber.org/atomic"
)

// Binder 嵌入到注册表等长生命周期组件中，保存组件级 Logger。
type Binder struct {
	logger atomic.Pointer[MLogger]
}

// SetLogger 绑定 Logger，传入 nil 表示恢复为按上下文取 Logger。
func (w *Binder) SetLogger(logger *MLogger) {
	w.logger.Store(logger)
}

// Logger 返回绑定的 Logger，尚未绑定时退回到 ctx 中的 Logger。
func (w *Binder) Logger(ctx context.Context) *MLogger {
	if l := w.logger.Load(); l != nil {
		return l
	}
	return Ctx(ctx)
}
