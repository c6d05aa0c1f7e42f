package netser

import (
	"cmp"
	"container/list"
	"fmt"
	"reflect"
	"strings"
	"unsafe"

	"golang.org/x/exp/slices"

	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

var (
	reflectTypeType   = reflect.TypeFor[reflect.Type]()
	anyType           = reflect.TypeFor[any]()
	linkedListType    = reflect.TypeFor[*list.List]()
	collectionType    = reflect.TypeFor[collection]()
	gridType          = reflect.TypeFor[grid]()
	eventValueType    = reflect.TypeFor[eventValue]()
	optionalValueType = reflect.TypeFor[optionalValue]()
)

// expand 是发现阶段的钩子：内置容器、Optional、事件、类型值以及自定义编解码器的类型
// 不展开字段，只继续发现其元素类型。
func (r *Registry) expand(t reflect.Type) ([]reflect.Type, bool) {
	if _, ok := r.codecs[t]; ok {
		return nil, true
	}
	switch {
	case t == reflectTypeType:
		return nil, true
	case t == linkedListType:
		return []reflect.Type{anyType}, true
	case t.Kind() == reflect.Pointer && t.Implements(eventValueType):
		return []reflect.Type{anyType}, true
	case t.Kind() == reflect.Pointer && t.Implements(collectionType):
		return []reflect.Type{newAs[collection](t).elemType()}, true
	case t.Kind() == reflect.Pointer && t.Implements(gridType):
		return []reflect.Type{newAs[grid](t).elemType()}, true
	case t.Kind() == reflect.Struct && t.Implements(optionalValueType):
		return []reflect.Type{reflect.Zero(t).Interface().(optionalValue).optionalElem()}, true
	}
	return nil, false
}

// newAs 为指针类型 t 分配一个新实例并转换为接口 I。
func newAs[I any](t reflect.Type) I {
	return reflect.New(t.Elem()).Interface().(I)
}

type builtinProvider struct{}

func (builtinProvider) name() string { return OriginBuiltin }

func (builtinProvider) build(g *generator, e *entry) (bool, error) {
	t := e.typ
	switch {
	case t == reflectTypeType:
		buildTypeValue(e)
		return true, nil
	case t == linkedListType:
		return true, buildLinkedList(g, e)
	case t.Kind() == reflect.Pointer && t.Implements(eventValueType):
		return true, buildEvent(g, e)
	case t.Kind() == reflect.Pointer && t.Implements(collectionType):
		return true, buildCollection(g, e)
	case t.Kind() == reflect.Pointer && t.Implements(gridType):
		return true, buildGrid(g, e)
	case t.Kind() == reflect.Struct && t.Implements(optionalValueType):
		return true, buildOptional(g, e)
	}

	switch t.Kind() {
	case reflect.String:
		buildString(e)
		return true, nil
	case reflect.Pointer:
		return true, buildPointer(g, e)
	case reflect.Slice:
		return true, buildSlice(g, e)
	case reflect.Array:
		return true, buildArray(g, e)
	case reflect.Map:
		return true, buildMap(g, e)
	case reflect.Interface:
		buildInterface(e)
		return true, nil
	}
	return buildPrimitive(e), nil
}

func fixed[T any](e *entry, size int, put func(*wire.Writer, T), get func(*wire.Reader) (T, error)) {
	e.wireMin = size
	e.encode = func(_ *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
		put(w, *(*T)(p))
		return nil
	}
	e.decode = func(_ *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
		v, err := get(r)
		if err != nil {
			return err
		}
		*(*T)(p) = v
		return nil
	}
}

// buildPrimitive 处理定宽基础类型，int/uint 固定按 8 字节编码。
func buildPrimitive(e *entry) bool {
	switch e.typ.Kind() {
	case reflect.Bool:
		fixed(e, 1, (*wire.Writer).WriteBool, (*wire.Reader).ReadBool)
	case reflect.Int8:
		fixed(e, 1, (*wire.Writer).WriteInt8, (*wire.Reader).ReadInt8)
	case reflect.Uint8:
		fixed(e, 1, (*wire.Writer).WriteUint8, (*wire.Reader).ReadUint8)
	case reflect.Int16:
		fixed(e, 2, (*wire.Writer).WriteInt16, (*wire.Reader).ReadInt16)
	case reflect.Uint16:
		fixed(e, 2, (*wire.Writer).WriteUint16, (*wire.Reader).ReadUint16)
	case reflect.Int32:
		fixed(e, 4, (*wire.Writer).WriteInt32, (*wire.Reader).ReadInt32)
	case reflect.Uint32:
		fixed(e, 4, (*wire.Writer).WriteUint32, (*wire.Reader).ReadUint32)
	case reflect.Int64:
		fixed(e, 8, (*wire.Writer).WriteInt64, (*wire.Reader).ReadInt64)
	case reflect.Uint64:
		fixed(e, 8, (*wire.Writer).WriteUint64, (*wire.Reader).ReadUint64)
	case reflect.Int:
		fixed(e, 8, func(w *wire.Writer, v int) { w.WriteInt64(int64(v)) },
			func(r *wire.Reader) (int, error) {
				v, err := r.ReadInt64()
				return int(v), err
			})
	case reflect.Uint:
		fixed(e, 8, func(w *wire.Writer, v uint) { w.WriteUint64(uint64(v)) },
			func(r *wire.Reader) (uint, error) {
				v, err := r.ReadUint64()
				return uint(v), err
			})
	case reflect.Float32:
		fixed(e, 4, (*wire.Writer).WriteFloat32, (*wire.Reader).ReadFloat32)
	case reflect.Float64:
		fixed(e, 8, (*wire.Writer).WriteFloat64, (*wire.Reader).ReadFloat64)
	case reflect.Complex64:
		fixed(e, 8, (*wire.Writer).WriteComplex64, (*wire.Reader).ReadComplex64)
	case reflect.Complex128:
		fixed(e, 16, (*wire.Writer).WriteComplex128, (*wire.Reader).ReadComplex128)
	default:
		return false
	}
	return true
}

// registerAt 把 p 处刚写入的引用值登记为下一个对象。
func (c *DeserializeContext) registerAt(t reflect.Type, p unsafe.Pointer) {
	v := reflect.New(t).Elem()
	v.Set(valueAt(t, p))
	c.register(v)
}

// buildString：身份令牌，首次访问时写长度前缀与字节。空串编码为空引用。
func buildString(e *entry) {
	t := e.typ
	e.reference(stringKey,
		func(_ *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
			s := *(*string)(p)
			w.WriteLen(len(s))
			w.WriteRaw(unsafe.Slice(unsafe.StringData(s), len(s)))
			return nil
		},
		func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
			n, err := r.ReadLen(1)
			if err != nil {
				return err
			}
			raw, err := r.ReadRaw(n)
			if err != nil {
				return err
			}
			*(*string)(p) = string(raw)
			ctx.registerAt(t, p)
			return nil
		})
}

func buildPointer(g *generator, e *entry) error {
	t := e.typ
	var elem *entry
	factory := g.reg.factories[t.Elem()]
	e.reference(pointerKey,
		func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
			return elem.encode(ctx, w, *(*unsafe.Pointer)(p))
		},
		func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
			var obj reflect.Value
			if factory != nil {
				obj = factory()
				if !obj.IsValid() || obj.IsNil() {
					return merr.WrapErrInvalidArgument("factory returned nil", t.Elem().String())
				}
			} else {
				obj = reflect.New(t.Elem())
			}
			*(*unsafe.Pointer)(p) = obj.UnsafePointer()
			ctx.registerAt(t, p)
			return elem.decode(ctx, r, obj.UnsafePointer())
		})
	var err error
	elem, err = g.entryFor(t.Elem(), "elem")
	return err
}

// buildSlice 把切片视为一维数组：身份令牌、int32 长度、元素。
func buildSlice(g *generator, e *entry) error {
	t := e.typ
	elemSize := t.Elem().Size()
	var elem *entry
	var raw bool
	e.reference(sliceKey,
		func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
			s := *(*[]byte)(p)
			n, data := len(s), unsafe.Pointer(unsafe.SliceData(s))
			w.WriteLen(n)
			if raw {
				w.WriteRaw(unsafe.Slice((*byte)(data), n))
				return nil
			}
			for i := 0; i < n; i++ {
				if err := elem.encode(ctx, w, unsafe.Add(data, uintptr(i)*elemSize)); err != nil {
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
			sv := reflect.MakeSlice(t, n, n)
			valueAt(t, p).Set(sv)
			ctx.register(sv)
			data := sv.UnsafePointer()
			if raw {
				b, err := r.ReadRaw(n)
				if err != nil {
					return err
				}
				copy(unsafe.Slice((*byte)(data), n), b)
				return nil
			}
			for i := 0; i < n; i++ {
				if err := elem.decode(ctx, r, unsafe.Add(data, uintptr(i)*elemSize)); err != nil {
					return err
				}
			}
			return nil
		})
	var err error
	elem, err = g.entryFor(t.Elem(), "elem")
	if err != nil {
		return err
	}
	raw = t.Elem().Kind() == reflect.Uint8 && elem.origin == OriginBuiltin
	return nil
}

// buildArray 处理定长数组：值类型，长度由类型决定，只写元素。
func buildArray(g *generator, e *entry) error {
	t := e.typ
	n := t.Len()
	elemSize := t.Elem().Size()
	elem, err := g.entryFor(t.Elem(), "elem")
	if err != nil {
		return err
	}
	e.wireMin = n * elem.wireMin
	e.encode = func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
		for i := 0; i < n; i++ {
			if err := elem.encode(ctx, w, unsafe.Add(p, uintptr(i)*elemSize)); err != nil {
				return err
			}
		}
		return nil
	}
	e.decode = func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
		for i := 0; i < n; i++ {
			if err := elem.decode(ctx, r, unsafe.Add(p, uintptr(i)*elemSize)); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func orderedKey(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// mapEntry 是 map 中的一个键值对。NaN 键无法通过 MapIndex 取回，因此按遍历结果成对排序。
type mapEntry struct {
	key, val reflect.Value
}

func compareKeys(k reflect.Kind) func(a, b reflect.Value) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(a, b reflect.Value) int { return cmp.Compare(a.Int(), b.Int()) }
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(a, b reflect.Value) int { return cmp.Compare(a.Uint(), b.Uint()) }
	case reflect.Float32, reflect.Float64:
		return func(a, b reflect.Value) int { return cmp.Compare(a.Float(), b.Float()) }
	case reflect.String:
		return func(a, b reflect.Value) int { return strings.Compare(a.String(), b.String()) }
	}
	return func(a, b reflect.Value) int {
		switch {
		case a.Bool() == b.Bool():
			return 0
		case !a.Bool():
			return -1
		default:
			return 1
		}
	}
}

func sortedEntries(m reflect.Value, compare func(a, b reflect.Value) int) []mapEntry {
	entries := make([]mapEntry, 0, m.Len())
	iter := m.MapRange()
	for iter.Next() {
		entries = append(entries, mapEntry{key: iter.Key(), val: iter.Value()})
	}
	slices.SortStableFunc(entries, func(a, b mapEntry) int { return compare(a.key, b.key) })
	return entries
}

// buildMap 把 map 作为有序映射编码：身份令牌、int32 数量、按键升序的键值对。
func buildMap(g *generator, e *entry) error {
	t := e.typ
	if !orderedKey(t.Key().Kind()) {
		return merr.WrapErrGenUnsupportedKey(t.String(), t.Key().String())
	}
	var key, val *entry
	compare := compareKeys(t.Key().Kind())
	e.reference(pointerKey,
		func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
			entries := sortedEntries(valueAt(t, p), compare)
			w.WriteLen(len(entries))
			kp, vp := reflect.New(t.Key()), reflect.New(t.Elem())
			for _, kv := range entries {
				kp.Elem().Set(kv.key)
				if err := key.encode(ctx, w, kp.UnsafePointer()); err != nil {
					return err
				}
				vp.Elem().Set(kv.val)
				if err := val.encode(ctx, w, vp.UnsafePointer()); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
			n, err := r.ReadLen(key.wireMin + val.wireMin)
			if err != nil {
				return err
			}
			m := reflect.MakeMapWithSize(t, n)
			valueAt(t, p).Set(m)
			ctx.register(m)
			for i := 0; i < n; i++ {
				kp, vp := reflect.New(t.Key()), reflect.New(t.Elem())
				if err := key.decode(ctx, r, kp.UnsafePointer()); err != nil {
					return err
				}
				if err := val.decode(ctx, r, vp.UnsafePointer()); err != nil {
					return err
				}
				m.SetMapIndex(kp.Elem(), vp.Elem())
				if m.Len() != i+1 {
					return merr.WrapErrStreamCorrupt(fmt.Sprintf("duplicate key %v in %s", kp.Elem(), t))
				}
			}
			return nil
		})
	var err error
	if key, err = g.entryFor(t.Key(), "key"); err != nil {
		return err
	}
	val, err = g.entryFor(t.Elem(), "value")
	return err
}

// buildInterface 按运行时类型分发：身份令牌，首次访问时写类型值，再写值本身。
func buildInterface(e *entry) {
	t := e.typ
	e.wireMin = 4
	e.encode = func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
		iv := valueAt(t, p)
		if iv.IsNil() {
			w.WriteUint32(tokenNull)
			return nil
		}
		dyn := iv.Elem()
		de, err := ctx.reg.lookup(dyn.Type())
		if err != nil {
			return err
		}
		tmp := reflect.New(dyn.Type())
		tmp.Elem().Set(dyn)
		if de.ref {
			if ptr, _ := de.key(tmp.UnsafePointer()); ptr != nil || dyn.Kind() != reflect.String {
				return ctx.encodeRef(w, de, tmp.UnsafePointer(), true)
			}
			// 空串没有地址，按值写出首次访问以保留动态类型。
			return ctx.encodeFresh(w, de, de.encodeBody, tmp.UnsafePointer())
		}
		return ctx.encodeFresh(w, de, de.encode, tmp.UnsafePointer())
	}
	e.decode = func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
		return ctx.decodeRef(r, t, p, nil)
	}
}

// buildTypeValue 把 reflect.Type 编码为（模块下标，类型令牌），nil 为模块 -1。
func buildTypeValue(e *entry) {
	e.wireMin = 8
	e.encode = func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
		return ctx.reg.tables.types.write(w, *(*reflect.Type)(p))
	}
	e.decode = func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
		t, err := ctx.reg.tables.types.read(r)
		if err != nil {
			return err
		}
		*(*reflect.Type)(p) = t
		return nil
	}
}
