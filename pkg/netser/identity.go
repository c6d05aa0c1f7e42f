package netser

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// 身份令牌，均为 4 字节小端无符号整数。
const (
	tokenNull       uint32 = 0xFFFFFFFF
	tokenFirstVisit uint32 = 0xFFFFFFFE
	definitionFlag  uint32 = 0x80000000
)

// VisitState 是单次操作中一个引用的访问状态。
type VisitState int

const (
	NotYetVisited VisitState = iota
	FirstVisitInProgress
	Visited
	DefinitionVisited
	NullVisited
)

var visitStateNames = map[VisitState]string{
	NotYetVisited:        "NotYetVisited",
	FirstVisitInProgress: "FirstVisitInProgress",
	Visited:              "Visited",
	DefinitionVisited:    "DefinitionVisited",
	NullVisited:          "NullVisited",
}

func (s VisitState) String() string {
	if name, ok := visitStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("VisitState(%d)", int(s))
}

// refKey 标识一个引用：同一地址上不同类型的引用（例如结构体与其首个内嵌字段）互不相同，
// 共享底层数组但长度不同的切片也互不相同。
type refKey struct {
	typ reflect.Type
	ptr unsafe.Pointer
	n   int
}

type visitRecord struct {
	index uint32
	state VisitState
}

// frame 是编码栈上一个正在首次访问的对象。
type frame struct {
	key   refKey
	keyed bool
	index uint32
	typ   reflect.Type
	start int
	child int
}

// keyOf 计算任意引用值的身份键，null 返回 ok=false。
func keyOf(ref any) (refKey, bool, error) {
	if ref == nil {
		return refKey{}, false, nil
	}
	v := reflect.ValueOf(ref)
	t := v.Type()
	switch t.Kind() {
	case reflect.Pointer, reflect.Map:
		if v.IsNil() {
			return refKey{}, false, nil
		}
		return refKey{typ: t, ptr: v.UnsafePointer()}, true, nil
	case reflect.Slice:
		if v.IsNil() {
			return refKey{}, false, nil
		}
		return refKey{typ: t, ptr: v.UnsafePointer(), n: v.Len()}, true, nil
	case reflect.String:
		if v.Len() == 0 {
			return refKey{}, false, nil
		}
		s := v.String()
		return refKey{typ: t, ptr: unsafe.Pointer(unsafe.StringData(s)), n: len(s)}, true, nil
	default:
		return refKey{}, false, merr.WrapErrInvalidArgument(fmt.Sprintf("%s is not a reference type", t))
	}
}

// isReferenceKind 判断放入接口的动态值是否按地址区分身份。
func isReferenceKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.String:
		return true
	}
	return false
}

// encodeRef 执行编码端身份协议。poly 为 true 时首次访问令牌后紧跟类型值。
func (c *SerializeContext) encodeRef(w *wire.Writer, e *entry, p unsafe.Pointer, poly bool) error {
	ptr, n := e.key(p)
	if ptr == nil {
		w.WriteUint32(tokenNull)
		return nil
	}
	k := refKey{typ: e.typ, ptr: ptr, n: n}
	if c.defs != nil {
		if i, ok := c.defs.index[k]; ok {
			w.WriteUint32(definitionFlag | i)
			c.hitDefinition(k, i)
			return nil
		}
	}
	if rec, ok := c.visited[k]; ok {
		w.WriteUint32(rec.index)
		if c.report != nil {
			c.report.edge(c.parentIndex(), nodeID(rec.index, false))
		}
		return nil
	}
	start := w.Len()
	if _, err := c.announce(k, true, e.typ, start); err != nil {
		return err
	}
	if c.fill {
		v := reflect.New(e.typ).Elem()
		v.Set(valueAt(e.typ, p))
		c.fillValues = append(c.fillValues, v)
		c.fillKeys = append(c.fillKeys, k)
	}
	w.WriteUint32(tokenFirstVisit)
	if poly {
		if err := c.reg.tables.types.write(w, e.typ); err != nil {
			return err
		}
	}
	if err := e.encodeBody(c, w, p); err != nil {
		return err
	}
	return c.leave(k, true, w.Len())
}

// encodeFresh 编码放入接口的非引用值：总是分配新的访问下标，body 写出类型值之后的内容。
func (c *SerializeContext) encodeFresh(w *wire.Writer, e *entry, body EncodeFunc, p unsafe.Pointer) error {
	start := w.Len()
	if _, err := c.announce(refKey{}, false, e.typ, start); err != nil {
		return err
	}
	w.WriteUint32(tokenFirstVisit)
	if err := c.reg.tables.types.write(w, e.typ); err != nil {
		return err
	}
	if err := body(c, w, p); err != nil {
		return err
	}
	return c.leave(refKey{}, false, w.Len())
}

// announce 登记首次访问。重复登记同一引用违反身份协议，总是返回错误。
func (c *SerializeContext) announce(k refKey, keyed bool, t reflect.Type, start int) (uint32, error) {
	if keyed {
		if rec, ok := c.visited[k]; ok {
			return 0, merr.WrapErrIdentityDoubleVisit(t.String(), rec.index)
		}
	}
	if c.reg.opts.maxDepth > 0 && len(c.stack) >= c.reg.opts.maxDepth {
		return 0, merr.WrapErrMaxDepthExceeded(len(c.stack)+1, c.reg.opts.maxDepth)
	}
	index := c.next
	c.next++
	if keyed {
		c.visited[k] = &visitRecord{index: index, state: FirstVisitInProgress}
	}
	if c.report != nil {
		c.report.node(index, t)
		c.report.edge(c.parentIndex(), nodeID(index, false))
	}
	c.stack = append(c.stack, frame{key: k, keyed: keyed, index: index, typ: t, start: start})
	return index, nil
}

// leave 结束最近一次首次访问。end 小于 0 表示不统计字节数。
func (c *SerializeContext) leave(k refKey, keyed bool, end int) error {
	if len(c.stack) == 0 {
		return merr.WrapErrIdentityImbalance(-1)
	}
	top := c.stack[len(c.stack)-1]
	if top.keyed != keyed || (keyed && top.key != k) {
		return merr.WrapErrIdentityImbalance(len(c.stack))
	}
	c.stack = c.stack[:len(c.stack)-1]
	if keyed {
		c.visited[k].state = Visited
	}
	c.objects++
	if end >= 0 {
		size := end - top.start
		if len(c.stack) > 0 {
			c.stack[len(c.stack)-1].child += size
		}
		if c.report != nil {
			c.report.add(top.index, top.typ, size, size-top.child)
		}
	}
	return nil
}

func (c *SerializeContext) hitDefinition(k refKey, index uint32) {
	c.defHits[k] = struct{}{}
	c.definitionRefs++
	if c.report != nil {
		c.report.definition(index, k.typ)
		c.report.edge(c.parentIndex(), nodeID(index, true))
	}
}

func (c *SerializeContext) parentIndex() string {
	if len(c.stack) == 0 {
		return rootNodeID
	}
	return nodeID(c.stack[len(c.stack)-1].index, false)
}

// decodeRef 执行解码端身份协议。e 为 nil 时 target 为接口类型，首次访问后先读取类型值。
func (c *DeserializeContext) decodeRef(r *wire.Reader, target reflect.Type, p unsafe.Pointer, e *entry) error {
	tok, err := r.ReadUint32()
	if err != nil {
		return err
	}
	switch {
	case tok == tokenNull:
		valueAt(target, p).SetZero()
		return nil
	case tok == tokenFirstVisit:
		if c.reg.opts.maxDepth > 0 && c.depth >= c.reg.opts.maxDepth {
			return merr.WrapErrMaxDepthExceeded(c.depth+1, c.reg.opts.maxDepth)
		}
		c.depth++
		if e == nil {
			err = c.decodePoly(r, target, p)
		} else {
			err = e.decodeBody(c, r, p)
		}
		c.depth--
		return err
	case tok&definitionFlag != 0:
		v, err := c.defs.lookup(tok&^definitionFlag, target)
		if err != nil {
			return err
		}
		c.definitionRefs++
		valueAt(target, p).Set(v)
		return nil
	default:
		v, err := c.lookup(tok, target)
		if err != nil {
			return err
		}
		valueAt(target, p).Set(v)
		return nil
	}
}

func (c *DeserializeContext) decodePoly(r *wire.Reader, target reflect.Type, p unsafe.Pointer) error {
	dyn, err := c.reg.tables.types.read(r)
	if err != nil {
		return err
	}
	if dyn == nil || !dyn.AssignableTo(target) {
		return merr.WrapErrStreamCorrupt(fmt.Sprintf("type %v is not assignable to %s", dyn, target))
	}
	de, err := c.reg.lookup(dyn)
	if err != nil {
		return err
	}
	tmp := reflect.New(dyn)
	if de.ref {
		err = de.decodeBody(c, r, tmp.UnsafePointer())
	} else {
		c.register(reflect.Value{})
		err = de.decode(c, r, tmp.UnsafePointer())
	}
	if err != nil {
		return err
	}
	valueAt(target, p).Set(tmp.Elem())
	return nil
}

// register 把新实例登记到下一个顺序下标。非引用值登记为空占位。
func (c *DeserializeContext) register(v reflect.Value) uint32 {
	index := uint32(len(c.objects))
	c.objects = append(c.objects, v)
	return index
}

// reserve 为尚未构造完成的引用预留下一个下标，之后由 settle 写入实例。
func (c *DeserializeContext) reserve() uint32 {
	return c.register(reflect.Value{})
}

func (c *DeserializeContext) settle(index uint32, t reflect.Type, p unsafe.Pointer) {
	v := reflect.New(t).Elem()
	v.Set(valueAt(t, p))
	c.objects[index] = v
}

func (c *DeserializeContext) lookup(index uint32, target reflect.Type) (reflect.Value, error) {
	if int(index) >= len(c.objects) || !c.objects[index].IsValid() {
		return reflect.Value{}, merr.WrapErrBackReferenceNotSet(index, len(c.objects))
	}
	v := c.objects[index]
	if !v.Type().AssignableTo(target) {
		return reflect.Value{}, merr.WrapErrStreamCorrupt(
			fmt.Sprintf("back reference %d holds %s, want %s", index, v.Type(), target))
	}
	return v, nil
}
