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

package netser

import (
	"reflect"
	"strings"
	"unsafe"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-netser/pkg/log"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/meta"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// methodProvider 回答“类型 t 由哪个过程处理”。
// build 返回 false 表示不处理该类型，交给下一层；返回 false 时不得修改 e。
type methodProvider interface {
	name() string
	build(g *generator, e *entry) (bool, error)
}

// generator 为发现得到的每个类型编译一对过程。
//
// 条目在编译前放入 entries，递归类型的闭包捕获条目指针，调用时再读取其过程，
// 因此自引用与互相引用的类型只编译一次。
type generator struct {
	reg       *Registry
	set       *meta.Set
	logger    *log.MLogger
	entries   map[reflect.Type]*entry
	providers []methodProvider
	path      []string
}

func newGenerator(r *Registry, set *meta.Set, logger *log.MLogger) *generator {
	return &generator{
		reg:     r,
		set:     set,
		logger:  logger,
		entries: make(map[reflect.Type]*entry, set.Len()),
		providers: []methodProvider{
			customProvider{},
			generatedProvider{},
			builtinProvider{},
		},
	}
}

// run 编译全部类型。任一类型失败则整体失败，不返回部分结果。
func (g *generator) run() (*tables, error) {
	for _, t := range g.set.Sorted() {
		if _, err := g.entryFor(t, t.String()); err != nil {
			return nil, err
		}
	}
	types, err := newTypeTable(lo.Keys(g.entries))
	if err != nil {
		return nil, err
	}
	return &tables{entries: g.entries, types: types}, nil
}

func (g *generator) entryFor(t reflect.Type, via string) (*entry, error) {
	if e, ok := g.entries[t]; ok {
		return e, nil
	}
	g.path = append(g.path, via)
	defer func() { g.path = g.path[:len(g.path)-1] }()

	if g.reg.isIgnored(t) {
		return nil, merr.WrapErrGenNoCodec(t.String(), strings.Join(g.path, "."), "type is ignored")
	}
	e := &entry{typ: t}
	g.entries[t] = e
	for _, p := range g.providers {
		ok, err := p.build(g, e)
		if err != nil {
			return nil, err
		}
		if ok {
			e.origin = p.name()
			g.logger.With(log.FieldType(t)).Debug("procedures compiled",
				zap.String("origin", e.origin),
				zap.Bool("reference", e.ref))
			return e, nil
		}
	}
	delete(g.entries, t)
	return nil, merr.WrapErrGenNoCodec(t.String(), strings.Join(g.path, "."))
}

func (g *generator) descriptor(t reflect.Type) *meta.Descriptor {
	if d := g.set.Descriptor(t); d != nil {
		return d
	}
	return meta.Describe(t, g.reg.isIgnored)
}

type customProvider struct{}

func (customProvider) name() string { return OriginCustom }

func (customProvider) build(g *generator, e *entry) (bool, error) {
	c, ok := g.reg.codecs[e.typ]
	if !ok {
		return false, nil
	}
	key := referenceKey(e.typ)
	if key == nil {
		e.encode = c.encode
		e.decode = c.decode
		return true, nil
	}
	// 引用类型仍走身份协议，编解码器只处理首次访问之后的内容。
	t := e.typ
	factory := g.reg.factories[t.Elem()]
	e.reference(key, c.encode, func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
		index := ctx.reserve()
		if t.Kind() == reflect.Pointer {
			// 先放入空白实例并登记，解码器原地填充时环路可以解析到自身。
			obj := reflect.New(t.Elem())
			if factory != nil {
				if obj = factory(); !obj.IsValid() || obj.IsNil() {
					return merr.WrapErrInvalidArgument("factory returned nil", t.Elem().String())
				}
			}
			*(*unsafe.Pointer)(p) = obj.UnsafePointer()
			ctx.settle(index, t, p)
		}
		if err := c.decode(ctx, r, p); err != nil {
			return err
		}
		ctx.settle(index, t, p)
		return nil
	})
	return true, nil
}

// referenceKey 返回引用类型的身份键函数，值类型返回 nil。
func referenceKey(t reflect.Type) func(unsafe.Pointer) (unsafe.Pointer, int) {
	switch t.Kind() {
	case reflect.Pointer, reflect.Map:
		return pointerKey
	case reflect.Slice:
		return sliceKey
	case reflect.String:
		return stringKey
	}
	return nil
}

type generatedProvider struct{}

func (generatedProvider) name() string { return OriginGenerated }

type compiledField struct {
	name   string
	offset uintptr
	entry  *entry
}

// build 为结构体生成过程：先内嵌结构体，再布尔位组，最后按网络序输出其余字段。
func (generatedProvider) build(g *generator, e *entry) (bool, error) {
	t := e.typ
	if t.Kind() != reflect.Struct || isSpecialStruct(t) {
		return false, nil
	}
	desc := g.descriptor(t)

	compile := func(fields []meta.Field) ([]compiledField, error) {
		out := make([]compiledField, 0, len(fields))
		for _, f := range fields {
			fe, err := g.entryFor(f.Type, f.Name)
			if err != nil {
				return nil, err
			}
			out = append(out, compiledField{name: f.Name, offset: f.Offset, entry: fe})
		}
		return out, nil
	}
	bases, err := compile(desc.Base)
	if err != nil {
		return false, err
	}
	others, err := compile(desc.Others)
	if err != nil {
		return false, err
	}
	bools := lo.Map(desc.Bools, func(f meta.Field, _ int) uintptr { return f.Offset })

	wireMin := desc.BoolBytes()
	for _, f := range bases {
		wireMin += f.entry.wireMin
	}
	for _, f := range others {
		wireMin += f.entry.wireMin
	}
	e.wireMin = wireMin

	e.encode = func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
		for _, f := range bases {
			if err := f.entry.encode(ctx, w, unsafe.Add(p, f.offset)); err != nil {
				return err
			}
		}
		for group := 0; group < len(bools); group += 8 {
			var bits uint8
			for i := group; i < len(bools) && i < group+8; i++ {
				if *(*bool)(unsafe.Add(p, bools[i])) {
					bits |= 1 << (i - group)
				}
			}
			w.WriteUint8(bits)
		}
		for _, f := range others {
			if err := f.entry.encode(ctx, w, unsafe.Add(p, f.offset)); err != nil {
				return err
			}
		}
		return nil
	}
	e.decode = func(ctx *DeserializeContext, r *wire.Reader, p unsafe.Pointer) error {
		for _, f := range bases {
			if err := f.entry.decode(ctx, r, unsafe.Add(p, f.offset)); err != nil {
				return err
			}
		}
		for group := 0; group < len(bools); group += 8 {
			bits, err := r.ReadUint8()
			if err != nil {
				return err
			}
			for i := group; i < len(bools) && i < group+8; i++ {
				*(*bool)(unsafe.Add(p, bools[i])) = bits&(1<<(i-group)) != 0
			}
		}
		for _, f := range others {
			if err := f.entry.decode(ctx, r, unsafe.Add(p, f.offset)); err != nil {
				return err
			}
		}
		return nil
	}
	return true, nil
}

// isSpecialStruct 判断结构体是否由内置编解码器处理。
func isSpecialStruct(t reflect.Type) bool {
	return t.Implements(optionalValueType)
}
