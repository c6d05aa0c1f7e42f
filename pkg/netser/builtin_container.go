package netser

import (
	"container/list"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// buildCollection 处理 List、Queue、Stack：身份令牌、int32 数量、按遍历顺序的元素。
func buildCollection(g *generator, e *entry) error {
	t := e.typ
	var elem *entry
	e.reference(pointerKey,
		func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
			coll := reflect.NewAt(t.Elem(), *(*unsafe.Pointer)(p)).Interface().(collection)
			w.WriteLen(coll.count())
			return coll.each(func(ep unsafe.Pointer) error {
				return elem.encode(ctx, w, ep)
			})
		},
		func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
			n, err := r.ReadLen(elem.wireMin)
			if err != nil {
				return err
			}
			obj := reflect.New(t.Elem())
			*(*unsafe.Pointer)(p) = obj.UnsafePointer()
			ctx.registerAt(t, p)
			return obj.Interface().(collection).refill(n, func(ep unsafe.Pointer) error {
				return elem.decode(ctx, r, ep)
			})
		})
	var err error
	elem, err = g.entryFor(newAs[collection](t).elemType(), "elem")
	return err
}

// buildGrid 处理 Array2、Array3：身份令牌、由外到内的各维长度、行主序元素。
func buildGrid(g *generator, e *entry) error {
	t := e.typ
	rank := len(newAs[grid](t).dims())
	var elem *entry
	e.reference(pointerKey,
		func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
			arr := reflect.NewAt(t.Elem(), *(*unsafe.Pointer)(p)).Interface().(grid)
			for _, d := range arr.dims() {
				w.WriteLen(d)
			}
			return arr.each(func(ep unsafe.Pointer) error {
				return elem.encode(ctx, w, ep)
			})
		},
		func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
			dims := make([]int, rank)
			total := 1
			for i := range dims {
				d, err := r.ReadLen(0)
				if err != nil {
					return err
				}
				dims[i] = d
				if d != 0 && total > wire.MaxLen/d {
					return merr.WrapErrStreamCorrupt(fmt.Sprintf("%s dims %v overflow", t, dims[:i+1]))
				}
				total *= d
			}
			if elem.wireMin > 0 && total > r.Remaining()/elem.wireMin {
				return merr.WrapErrStreamCorrupt(
					fmt.Sprintf("%s dims %v exceed remaining %d bytes", t, dims, r.Remaining()))
			}
			obj := reflect.New(t.Elem())
			*(*unsafe.Pointer)(p) = obj.UnsafePointer()
			ctx.registerAt(t, p)
			arr := obj.Interface().(grid)
			arr.reshape(dims)
			return arr.each(func(ep unsafe.Pointer) error {
				return elem.decode(ctx, r, ep)
			})
		})
	var err error
	elem, err = g.entryFor(newAs[grid](t).elemType(), "elem")
	return err
}

// buildLinkedList 处理 *list.List，元素类型任意，按接口值分发。
func buildLinkedList(g *generator, e *entry) error {
	t := e.typ
	var elem *entry
	e.reference(pointerKey,
		func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
			l := *(**list.List)(p)
			w.WriteLen(l.Len())
			for el := l.Front(); el != nil; el = el.Next() {
				if err := elem.encode(ctx, w, unsafe.Pointer(&el.Value)); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
			n, err := r.ReadLen(elem.wireMin)
			if err != nil {
				return err
			}
			l := list.New()
			*(**list.List)(p) = l
			ctx.registerAt(t, p)
			for i := 0; i < n; i++ {
				var v any
				if err := elem.decode(ctx, r, unsafe.Pointer(&v)); err != nil {
					return err
				}
				l.PushBack(v)
			}
			return nil
		})
	var err error
	elem, err = g.entryFor(anyType, "elem")
	return err
}

// buildOptional：1 字节存在标记，存在时紧跟值；不存在时解码端清零值存储。
func buildOptional(g *generator, e *entry) error {
	t := e.typ
	valueField, _ := t.FieldByName("Value")
	hasField, _ := t.FieldByName("Has")
	valueOff, hasOff := valueField.Offset, hasField.Offset
	elem, err := g.entryFor(valueField.Type, "Value")
	if err != nil {
		return err
	}
	e.wireMin = 1
	e.encode = func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
		has := *(*bool)(unsafe.Add(p, hasOff))
		w.WriteBool(has)
		if !has {
			return nil
		}
		return elem.encode(ctx, w, unsafe.Add(p, valueOff))
	}
	e.decode = func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
		has, err := r.ReadBool()
		if err != nil {
			return err
		}
		*(*bool)(unsafe.Add(p, hasOff)) = has
		if !has {
			valueAt(valueField.Type, unsafe.Add(p, valueOff)).SetZero()
			return nil
		}
		return elem.decode(ctx, r, unsafe.Add(p, valueOff))
	}
	return nil
}

// buildEvent 处理 *Event[A]：身份令牌、int32 订阅数，
// 每个订阅写 int32 目标编号，需要状态的目标再按身份协议写捕获状态。
func buildEvent(g *generator, e *entry) error {
	t := e.typ
	info, ok := g.reg.events[t]
	if !ok {
		return merr.WrapErrGenNoCodec(t.String(), "", "event type is not registered through RegisterEvent")
	}
	var state *entry
	e.reference(pointerKey,
		func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
			ev := reflect.NewAt(t.Elem(), *(*unsafe.Pointer)(p)).Interface().(eventValue)
			n := ev.subscriptionCount()
			w.WriteLen(n)
			for i := 0; i < n; i++ {
				ptr, st := ev.subscriptionAt(i)
				id, ok := info.id(ptr)
				if !ok {
					return merr.WrapErrUnknownTarget(t.String(), fmt.Sprintf("func@%#x", ptr))
				}
				w.WriteInt32(int32(id))
				if !info.targets[id].hasState {
					continue
				}
				if err := state.encode(ctx, w, unsafe.Pointer(&st)); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
			n, err := r.ReadLen(4)
			if err != nil {
				return err
			}
			obj := reflect.New(t.Elem())
			*(*unsafe.Pointer)(p) = obj.UnsafePointer()
			ctx.registerAt(t, p)
			ev := obj.Interface().(eventValue)
			ev.resetSubscriptions(n)
			for i := 0; i < n; i++ {
				id, err := r.ReadInt32()
				if err != nil {
					return err
				}
				if id < 0 || int(id) >= len(info.targets) {
					return merr.WrapErrUnknownTarget(t.String(), id)
				}
				target := info.targets[id]
				var st any
				if target.hasState {
					if err := state.decode(ctx, r, unsafe.Pointer(&st)); err != nil {
						return err
					}
				}
				ev.appendSubscription(target.fn, st)
			}
			return nil
		})
	var err error
	state, err = g.entryFor(anyType, "state")
	return err
}
