package netser

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// DefinitionTable 是编解码两端共享的预知引用集合。
// 命中定义表的引用只写出 0x80000000|下标，不写字段数据。
// 构建完成后只读，可被任意多个 Context 并发共享。
type DefinitionTable struct {
	index  map[refKey]uint32
	values []reflect.Value
}

// BuildDefinitions 遍历 objs 的对象图，把遇到的每个引用按首次访问顺序登记到定义表。
// 两端必须以相同的对象图、相同的顺序构建定义表。
func (r *Registry) BuildDefinitions(objs ...any) (*DefinitionTable, error) {
	if err := r.Finish(); err != nil {
		return nil, err
	}
	c := r.NewSerializeContext(nil)
	c.fill = true
	w := wire.NewWriter(nil)
	for i, obj := range objs {
		if obj == nil {
			return nil, merr.WrapErrInvalidArgument(fmt.Sprintf("definition object %d is nil", i))
		}
		t := reflect.TypeOf(obj)
		e, err := r.lookup(t)
		if err != nil {
			return nil, err
		}
		tmp := reflect.New(t)
		tmp.Elem().Set(reflect.ValueOf(obj))
		w.Reset()
		if err := e.encode(c, w, tmp.UnsafePointer()); err != nil {
			return nil, err
		}
	}
	if len(c.fillKeys) >= int(definitionFlag) {
		return nil, merr.WrapErrInvalidArgument(fmt.Sprintf("too many definitions: %d", len(c.fillKeys)))
	}

	d := &DefinitionTable{
		index:  make(map[refKey]uint32, len(c.fillKeys)),
		values: c.fillValues,
	}
	for i, k := range c.fillKeys {
		d.index[k] = uint32(i)
	}
	r.logger(context.TODO()).Info("definition table built",
		zap.Int("roots", len(objs)), zap.Int("definitions", len(d.values)))
	return d, nil
}

// Len 返回定义表中的引用数量，nil 表视为空表。
func (d *DefinitionTable) Len() int {
	if d == nil {
		return 0
	}
	return len(d.values)
}

// Index 返回 ref 在定义表中的下标。
func (d *DefinitionTable) Index(ref any) (uint32, bool) {
	if d == nil {
		return 0, false
	}
	k, ok, err := keyOf(ref)
	if err != nil || !ok {
		return 0, false
	}
	i, ok := d.index[k]
	return i, ok
}

// At 返回下标 i 处的引用。
func (d *DefinitionTable) At(i uint32) (any, bool) {
	if d == nil || int(i) >= len(d.values) {
		return nil, false
	}
	return d.values[i].Interface(), true
}

func (d *DefinitionTable) lookup(i uint32, target reflect.Type) (reflect.Value, error) {
	if d == nil {
		return reflect.Value{}, merr.WrapErrDefinitionMismatch(i, "no definition table attached")
	}
	if int(i) >= len(d.values) {
		return reflect.Value{}, merr.WrapErrDefinitionMismatch(i, fmt.Sprintf("table holds %d definitions", len(d.values)))
	}
	v := d.values[i]
	if !v.Type().AssignableTo(target) {
		return reflect.Value{}, merr.WrapErrDefinitionMismatch(i, fmt.Sprintf("definition holds %s, want %s", v.Type(), target))
	}
	return v, nil
}
