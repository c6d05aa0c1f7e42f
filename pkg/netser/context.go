package netser

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/lk2023060901/danmu-garden-netser/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// SerializeContext 是一次（或 Reset 后的下一次）序列化操作的运行时状态。
// 不可并发使用；每个逻辑操作使用独立的 Context。
type SerializeContext struct {
	reg  *Registry
	defs *DefinitionTable

	visited map[refKey]*visitRecord
	defHits map[refKey]struct{}
	stack   []frame
	next    uint32

	objects        int
	definitionRefs int

	// fill 模式用于构建定义表，记录每个首次访问的引用值。
	fill       bool
	fillKeys   []refKey
	fillValues []reflect.Value

	reportEnabled bool
	report        *reportBuilder
}

// NewSerializeContext 创建序列化上下文，defs 可以为 nil。
func (r *Registry) NewSerializeContext(defs *DefinitionTable) *SerializeContext {
	return &SerializeContext{
		reg:     r,
		defs:    defs,
		visited: make(map[refKey]*visitRecord),
		defHits: make(map[refKey]struct{}),
	}
}

// Registry 返回创建该上下文的注册表。
func (c *SerializeContext) Registry() *Registry {
	return c.reg
}

// Reset 清空访问表，开始新的操作。
func (c *SerializeContext) Reset() {
	clear(c.visited)
	clear(c.defHits)
	c.stack = c.stack[:0]
	c.next = 0
	c.objects = 0
	c.definitionRefs = 0
	if c.reportEnabled {
		c.report = newReportBuilder()
	} else {
		c.report = nil
	}
}

// EnableReport 为之后的操作收集大小报告与对象图。
func (c *SerializeContext) EnableReport() {
	c.reportEnabled = true
	if c.report == nil {
		c.report = newReportBuilder()
	}
}

// Serialize 写入根对象：先写 int32 版本号，再写对象本身。
// root 的类型必须通过 Registry.Root 注册。出错时 w 中已写入的数据不会回滚。
func (c *SerializeContext) Serialize(w *wire.Writer, root any) (err error) {
	start := w.Len()
	typeName := "<nil>"
	defer func() {
		c.observe(metrics.EncodeLabel, typeName, w.Len()-start, err)
	}()

	if err = c.reg.Finish(); err != nil {
		return err
	}
	c.Reset()
	if root == nil {
		return merr.WrapErrInvalidArgument("nil root")
	}
	t := reflect.TypeOf(root)
	typeName = t.String()
	info, ok := c.reg.roots[t]
	if !ok {
		return merr.WrapErrRegistryNotRoot(typeName)
	}
	e, err := c.reg.lookup(t)
	if err != nil {
		return err
	}

	w.WriteInt32(info.version)
	tmp := reflect.New(t)
	tmp.Elem().Set(reflect.ValueOf(root))
	if err = e.encode(c, w, tmp.UnsafePointer()); err != nil {
		return err
	}
	if c.report != nil {
		c.report.finish(t, w.Len()-start)
	}
	return c.checkBalance()
}

func (c *SerializeContext) checkBalance() error {
	if c.reg.opts.checked && len(c.stack) != 0 {
		return merr.WrapErrIdentityImbalance(len(c.stack))
	}
	return nil
}

// State 返回 ref 在当前操作中的访问状态。
func (c *SerializeContext) State(ref any) VisitState {
	k, ok, err := keyOf(ref)
	if err != nil {
		return NotYetVisited
	}
	if !ok {
		return NullVisited
	}
	if rec, ok := c.visited[k]; ok {
		return rec.state
	}
	if _, ok := c.defHits[k]; ok {
		return DefinitionVisited
	}
	return NotYetVisited
}

// Announce 把 ref 登记为首次访问并返回其下标，供自定义编解码器手工维护身份。
// 同一引用重复登记返回 merr.ErrIdentityDoubleVisit。
func (c *SerializeContext) Announce(ref any) (uint32, error) {
	k, ok, err := keyOf(ref)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, merr.WrapErrInvalidArgument("announce nil reference")
	}
	return c.announce(k, true, k.typ, -1)
}

// Leave 结束 Announce 开始的首次访问，必须与最近一次 Announce 配对。
func (c *SerializeContext) Leave(ref any) error {
	k, ok, err := keyOf(ref)
	if err != nil {
		return err
	}
	if !ok {
		return merr.WrapErrInvalidArgument("leave nil reference")
	}
	return c.leave(k, true, -1)
}

// Visited 返回当前操作中首次访问的对象数量。
func (c *SerializeContext) Visited() int {
	return c.objects
}

// DefinitionRefs 返回当前操作中以定义表下标写出的引用数量。
func (c *SerializeContext) DefinitionRefs() int {
	return c.definitionRefs
}

func (c *SerializeContext) observe(direction string, typeName string, n int, err error) {
	if !c.reg.opts.metrics {
		return
	}
	observe(direction, typeName, n, c.objects, c.definitionRefs, err)
}

// DeserializeContext 是一次反序列化操作的运行时状态，不可并发使用。
type DeserializeContext struct {
	reg  *Registry
	defs *DefinitionTable

	objects        []reflect.Value
	depth          int
	definitionRefs int
}

// NewDeserializeContext 创建反序列化上下文。defs 必须与编码端使用同一份定义表。
func (r *Registry) NewDeserializeContext(defs *DefinitionTable) *DeserializeContext {
	return &DeserializeContext{
		reg:  r,
		defs: defs,
	}
}

func (c *DeserializeContext) Registry() *Registry {
	return c.reg
}

func (c *DeserializeContext) Reset() {
	clear(c.objects)
	c.objects = c.objects[:0]
	c.depth = 0
	c.definitionRefs = 0
}

// Deserialize 读取根对象到 out，out 必须是指向已注册根类型的非空指针。
// 版本号在读取任何字段数据之前校验。
func (c *DeserializeContext) Deserialize(r *wire.Reader, out any) (err error) {
	start := r.Offset()
	typeName := "<nil>"
	defer func() {
		if c.reg.opts.metrics {
			observe(metrics.DecodeLabel, typeName, r.Offset()-start, len(c.objects), c.definitionRefs, err)
		}
	}()

	if err = c.reg.Finish(); err != nil {
		return err
	}
	c.Reset()
	ov := reflect.ValueOf(out)
	if !ov.IsValid() || ov.Kind() != reflect.Pointer || ov.IsNil() {
		return merr.WrapErrInvalidArgument(fmt.Sprintf("deserialize target %T must be a non-nil pointer", out))
	}
	t := ov.Type().Elem()
	typeName = t.String()
	info, ok := c.reg.roots[t]
	if !ok {
		return merr.WrapErrRegistryNotRoot(typeName)
	}
	e, err := c.reg.lookup(t)
	if err != nil {
		return err
	}

	version, err := r.ReadInt32()
	if err != nil {
		return err
	}
	if version > info.version {
		return merr.WrapErrVersionTooNew(typeName, version, info.version)
	}
	if version < info.minVersion {
		return merr.WrapErrVersionTooOld(typeName, version, info.minVersion)
	}
	return e.decode(c, r, ov.UnsafePointer())
}

// Register 把自定义编解码器新建的引用实例登记到下一个下标，与编码端 Announce 对应。
func (c *DeserializeContext) Register(v any) uint32 {
	return c.register(reflect.ValueOf(v))
}

// Objects 返回当前操作中登记的对象数量。
func (c *DeserializeContext) Objects() int {
	return len(c.objects)
}

// Encode 使用分发表中 T 的过程编码 *v，供自定义编解码器编码嵌套值。
func Encode[T any](ctx *SerializeContext, w *wire.Writer, v *T) error {
	e, err := ctx.reg.lookup(reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	return e.encode(ctx, w, unsafe.Pointer(v))
}

// Decode 使用分发表中 T 的过程解码到 *v。
func Decode[T any](ctx *DeserializeContext, r *wire.Reader, v *T) error {
	e, err := ctx.reg.lookup(reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	return e.decode(ctx, r, unsafe.Pointer(v))
}
