// Package wire 提供序列化引擎使用的原始字节流读写。
//
// 所有整数与浮点数均为定宽小端序，长度与计数为 int32。
// Reader 的每次读取都做越界检查，越界返回 merr.ErrStreamEOF，
// 非法长度返回 merr.ErrStreamCorrupt。
package wire
