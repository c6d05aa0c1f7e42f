package netser

import (
	"reflect"
	"unsafe"

	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
)

// EncodeFunc 将 p 指向的值写入 w。p 指向的存储类型即过程所属的类型。
type EncodeFunc func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error

// DecodeFunc 从 r 读取一个值写入 p 指向的存储。
type DecodeFunc func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error

const (
	OriginCustom    = "custom"
	OriginGenerated = "generated"
	OriginBuiltin   = "builtin"
)

// entry 是分发表中一个类型的过程对。
//
// ref 为 true 的类型走身份协议：encode/decode 负责令牌，
// encodeBody/decodeBody 只处理首次访问之后的内容，decodeBody 需在读取内容前登记新实例。
type entry struct {
	typ    reflect.Type
	origin string

	ref        bool
	key        func(p unsafe.Pointer) (unsafe.Pointer, int)
	encodeBody EncodeFunc
	decodeBody DecodeFunc

	encode EncodeFunc
	decode DecodeFunc

	// wireMin 是该类型一个值在流中至少占用的字节数，用于校验计数前缀。
	wireMin int
}

// reference 把 e 配置为引用类型，令牌由上下文统一处理。
func (e *entry) reference(key func(unsafe.Pointer) (unsafe.Pointer, int), body EncodeFunc, bodyDec DecodeFunc) {
	e.ref = true
	e.key = key
	e.encodeBody = body
	e.decodeBody = bodyDec
	e.wireMin = 4
	e.encode = func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
		return ctx.encodeRef(w, e, p, false)
	}
	e.decode = func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
		return ctx.decodeRef(r, e.typ, p, e)
	}
}

// valueAt 返回 p 处类型为 t 的可设置 reflect.Value。
func valueAt(t reflect.Type, p unsafe.Pointer) reflect.Value {
	return reflect.NewAt(t, p).Elem()
}

func pointerKey(p unsafe.Pointer) (unsafe.Pointer, int) {
	return *(*unsafe.Pointer)(p), 0
}

func sliceKey(p unsafe.Pointer) (unsafe.Pointer, int) {
	s := *(*[]byte)(p)
	return unsafe.Pointer(unsafe.SliceData(s)), len(s)
}

// stringKey 把空串视为空引用。
func stringKey(p unsafe.Pointer) (unsafe.Pointer, int) {
	s := *(*string)(p)
	if len(s) == 0 {
		return nil, 0
	}
	return unsafe.Pointer(unsafe.StringData(s)), len(s)
}

// Procedures 是对外暴露的一对过程，供外部工具与自定义编解码器组合使用。
type Procedures struct {
	Type   reflect.Type
	Origin string
	Encode EncodeFunc
	Decode DecodeFunc
}
