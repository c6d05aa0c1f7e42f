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
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-netser/pkg/log"
	"github.com/lk2023060901/danmu-garden-netser/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/meta"
	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/conc"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/typeutil"
)

// Registry 持有注册信息与生成后的分发表。
//
// 生命周期分两段：生成开始前可以注册根类型、编解码器、工厂与事件目标；
// 生成开始后注册表冻结，分发表由生成任务一次性写入，此后只读，可被任意多个 Context 并发使用。
type Registry struct {
	log.Binder
	opts *options

	mu          sync.Mutex
	started     atomic.Bool
	startOnce   sync.Once
	future      *conc.Future[any]
	roots       map[reflect.Type]rootInfo
	rootOrder   []reflect.Type
	ignored     typeutil.Set[reflect.Type]
	polymorphic *typeutil.OrderedSet[reflect.Type]
	codecs      map[reflect.Type]*customCodec
	factories   map[reflect.Type]func() reflect.Value
	events      map[reflect.Type]*delegateInfo

	set    *meta.Set
	tables *tables
}

type customCodec struct {
	typ    reflect.Type
	encode EncodeFunc
	decode DecodeFunc
}

// NewRegistry 创建一个空的注册表。
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	r := &Registry{
		opts:        o,
		roots:       make(map[reflect.Type]rootInfo),
		ignored:     typeutil.NewSet[reflect.Type](),
		polymorphic: typeutil.NewOrderedSet[reflect.Type](),
		codecs:      make(map[reflect.Type]*customCodec),
		factories:   make(map[reflect.Type]func() reflect.Value),
		events:      make(map[reflect.Type]*delegateInfo),
	}
	if o.logger != nil {
		r.SetLogger(o.logger)
	}
	return r
}

// typeOf 接受示例值或 reflect.Type。
func typeOf(v any) reflect.Type {
	if t, ok := v.(reflect.Type); ok {
		return t
	}
	return reflect.TypeOf(v)
}

// mutate 在持锁且注册表未冻结时执行 fn。
func (r *Registry) mutate(operation string, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started.Load() {
		return merr.WrapErrRegistryFrozen(operation)
	}
	return fn()
}

// Root 把 v 的类型登记为根类型，作为发现起点，并可通过 Serialize/Deserialize 收发。
func (r *Registry) Root(v any, opts ...RootOption) error {
	t := typeOf(v)
	if t == nil {
		return merr.WrapErrInvalidArgument("nil root")
	}
	info := rootInfo{}
	for _, opt := range opts {
		opt(&info)
	}
	if info.minVersion > info.version {
		return merr.WrapErrInvalidArgument(
			fmt.Sprintf("min version %d above current %d", info.minVersion, info.version), t.String())
	}
	return r.mutate("Root", func() error {
		if _, ok := r.roots[t]; ok {
			return merr.WrapErrGenDuplicateRegister("root", t.String())
		}
		r.roots[t] = info
		r.rootOrder = append(r.rootOrder, t)
		return nil
	})
}

// Ignore 标记类型永不序列化，引用它们的字段会被跳过。
func (r *Registry) Ignore(vs ...any) error {
	return r.mutate("Ignore", func() error {
		for _, v := range vs {
			if t := typeOf(v); t != nil {
				r.ignored.Insert(t)
			}
		}
		return nil
	})
}

// Polymorphic 登记可能出现在接口字段中的具体类型。
// 接口字段只能按这些类型（以及其它已生成的类型）分发。
func (r *Registry) Polymorphic(vs ...any) error {
	return r.mutate("Polymorphic", func() error {
		for _, v := range vs {
			t := typeOf(v)
			if t == nil {
				return merr.WrapErrInvalidArgument("nil polymorphic type")
			}
			r.polymorphic.Insert(t)
		}
		return nil
	})
}

// RegisterCodec 为 T 注册自定义编解码器，优先于生成的过程。
// T 为指针、切片、map 或字符串时，身份令牌与实例登记由上下文完成，编解码器只读写首次访问的内容，
// 不应再调用 Announce/Leave/Register。解码 *T 时 *v 已指向新分配的实例，原地填充即可支持环路。
func RegisterCodec[T any](r *Registry,
	enc func(ctx *SerializeContext, w *wire.Writer, v *T) error,
	dec func(ctx *DeserializeContext, rd *wire.Reader, v *T) error,
) error {
	t := reflect.TypeFor[T]()
	if enc == nil || dec == nil {
		return merr.WrapErrGenBadCustomCodec(t.String(), "nil encoder or decoder")
	}
	return r.addCodec(&customCodec{
		typ: t,
		encode: func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
			return enc(ctx, w, (*T)(p))
		},
		decode: func(ctx *DeserializeContext, rd *wire.Reader, p unsafe.Pointer) error {
			return dec(ctx, rd, (*T)(p))
		},
	})
}

var (
	serializeContextType   = reflect.TypeFor[*SerializeContext]()
	deserializeContextType = reflect.TypeFor[*DeserializeContext]()
	writerType             = reflect.TypeFor[*wire.Writer]()
	readerType             = reflect.TypeFor[*wire.Reader]()
	errorType              = reflect.TypeFor[error]()
)

// RegisterCodecFuncs 以任意函数值注册编解码器，形状通过反射校验：
//
//	enc: func(*SerializeContext, *wire.Writer, *T) error
//	dec: func(*DeserializeContext, *wire.Reader, *T) error
func (r *Registry) RegisterCodecFuncs(enc, dec any) error {
	ev, dv := reflect.ValueOf(enc), reflect.ValueOf(dec)
	if !ev.IsValid() || ev.Kind() != reflect.Func || ev.IsNil() {
		return merr.WrapErrGenBadCustomCodec(fmt.Sprintf("%T", enc), "encoder is not a function")
	}
	if !dv.IsValid() || dv.Kind() != reflect.Func || dv.IsNil() {
		return merr.WrapErrGenBadCustomCodec(fmt.Sprintf("%T", dec), "decoder is not a function")
	}
	et, dt := ev.Type(), dv.Type()
	if et.NumIn() != 3 || et.In(0) != serializeContextType || et.In(1) != writerType ||
		et.In(2).Kind() != reflect.Pointer || et.NumOut() != 1 || et.Out(0) != errorType {
		return merr.WrapErrGenBadCustomCodec(et.String(),
			"encoder must be func(*SerializeContext, *wire.Writer, *T) error")
	}
	t := et.In(2).Elem()
	if dt.NumIn() != 3 || dt.In(0) != deserializeContextType || dt.In(1) != readerType ||
		dt.In(2) != et.In(2) || dt.NumOut() != 1 || dt.Out(0) != errorType {
		return merr.WrapErrGenBadCustomCodec(dt.String(),
			fmt.Sprintf("decoder must be func(*DeserializeContext, *wire.Reader, *%s) error", t))
	}
	call := func(fn reflect.Value, args ...reflect.Value) error {
		out := fn.Call(args)
		if err, _ := out[0].Interface().(error); err != nil {
			return err
		}
		return nil
	}
	return r.addCodec(&customCodec{
		typ: t,
		encode: func(ctx *SerializeContext, w *wire.Writer, p unsafe.Pointer) error {
			return call(ev, reflect.ValueOf(ctx), reflect.ValueOf(w), reflect.NewAt(t, p))
		},
		decode: func(ctx *DeserializeContext, rd *wire.Reader, p unsafe.Pointer) error {
			return call(dv, reflect.ValueOf(ctx), reflect.ValueOf(rd), reflect.NewAt(t, p))
		},
	})
}

func (r *Registry) addCodec(c *customCodec) error {
	return r.mutate("RegisterCodec", func() error {
		if _, ok := r.codecs[c.typ]; ok {
			return merr.WrapErrGenDuplicateRegister("codec", c.typ.String())
		}
		r.codecs[c.typ] = c
		return nil
	})
}

// RegisterFactory 注册 T 的空白实例构造函数，解码 *T 的首次访问时用它代替 new(T)。
func RegisterFactory[T any](r *Registry, fn func() *T) error {
	t := reflect.TypeFor[T]()
	if fn == nil {
		return merr.WrapErrInvalidArgument("nil factory", t.String())
	}
	return r.mutate("RegisterFactory", func() error {
		if _, ok := r.factories[t]; ok {
			return merr.WrapErrGenDuplicateRegister("factory", t.String())
		}
		r.factories[t] = func() reflect.Value {
			return reflect.ValueOf(fn())
		}
		return nil
	})
}

// Generate 同步执行生成。生成只会执行一次，重复调用返回第一次的结果。
func (r *Registry) Generate() error {
	r.start(false)
	return r.Finish()
}

// GenerateAsync 在协程池中启动生成并立即返回，之后通过 Finish 等待。
func (r *Registry) GenerateAsync() {
	r.start(true)
}

// Finish 等待生成结束并返回其结果，可重复调用。
// 尚未开始生成时在当前协程同步生成。
func (r *Registry) Finish() error {
	r.start(false)
	_, err := r.future.Await()
	return err
}

func (r *Registry) start(async bool) {
	r.startOnce.Do(func() {
		r.mu.Lock()
		r.started.Store(true)
		r.mu.Unlock()

		if !async {
			r.future = conc.Completed[any](nil, r.generate())
			return
		}
		pool := r.opts.pool
		if pool == nil {
			pool = conc.DefaultPool()
		}
		r.future = pool.Submit(func() (any, error) {
			return nil, r.generate()
		})
	})
}

func (r *Registry) logger(ctx context.Context) *log.MLogger {
	return r.Logger(ctx).With(log.FieldModule("netser"))
}

func (r *Registry) generate() (err error) {
	ctx, span := log.NewIntentContext("netser", "generate")
	defer span.End()
	logger := r.logger(ctx)
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("netser: generation panicked: %v", p)
			logger.Error("generation panicked", zap.Any("panic", p))
		}
	}()

	begin := time.Now()
	set, err := meta.Discover(r.discoveryRoots(),
		meta.WithIgnored(r.isIgnored),
		meta.WithExpand(r.expand),
		meta.WithLogger(logger.With(log.FieldComponent("discovery"))))
	if err != nil {
		logger.Warn("type discovery failed", zap.Error(err))
		return err
	}

	t, err := newGenerator(r, set, logger).run()
	if err != nil {
		logger.Warn("generation failed, no procedures installed", zap.Error(err))
		return err
	}
	r.set = set
	r.tables = t

	cost := time.Since(begin)
	logger.Info("generation finished",
		zap.Int("types", len(t.entries)),
		zap.Int("modules", len(t.types.modules)),
		zap.Int("roots", len(r.rootOrder)),
		zap.Duration("cost", cost))
	if r.opts.metrics {
		metrics.GenerationDuration.Observe(float64(cost.Milliseconds()))
		metrics.GeneratedTypes.Set(float64(len(t.entries)))
	}
	return nil
}

// discoveryRoots 按注册顺序收集发现起点。
func (r *Registry) discoveryRoots() []reflect.Type {
	out := make([]reflect.Type, 0, len(r.rootOrder)+r.polymorphic.Len()+len(r.codecs)+len(r.events))
	out = append(out, r.rootOrder...)
	out = append(out, r.polymorphic.Collect()...)
	for _, t := range sortedTypes(r.codecs) {
		out = append(out, t)
	}
	for _, t := range sortedTypes(r.factories) {
		out = append(out, reflect.PointerTo(t))
	}
	for _, t := range sortedTypes(r.events) {
		out = append(out, t)
	}
	return out
}

func (r *Registry) isIgnored(t reflect.Type) bool {
	return r.ignored.Contain(t)
}

// lookup 返回 t 的过程对，调用方需先完成 Finish。
func (r *Registry) lookup(t reflect.Type) (*entry, error) {
	if r.tables == nil {
		return nil, merr.WrapErrUnregisteredType(fmt.Sprintf("%v (generation not finished)", t))
	}
	e, ok := r.tables.entries[t]
	if !ok {
		return nil, merr.WrapErrUnregisteredType(fmt.Sprintf("%v", t))
	}
	return e, nil
}

// Procedures 返回 t 的过程对。必须在生成结束后调用。
func (r *Registry) Procedures(t reflect.Type) (Procedures, bool) {
	if err := r.Finish(); err != nil {
		return Procedures{}, false
	}
	e, err := r.lookup(t)
	if err != nil {
		return Procedures{}, false
	}
	return Procedures{Type: e.typ, Origin: e.origin, Encode: e.encode, Decode: e.decode}, true
}

// Types 返回分发表中的全部类型，按模块与类型令牌排序。
func (r *Registry) Types() []reflect.Type {
	if err := r.Finish(); err != nil {
		return nil
	}
	return r.tables.types.all()
}

// Descriptor 返回生成使用的结构体描述。
func (r *Registry) Descriptor(t reflect.Type) *meta.Descriptor {
	if err := r.Finish(); err != nil {
		return nil
	}
	return r.set.Descriptor(t)
}

// DiscoveryReport 返回发现阶段的类型报告。
func (r *Registry) DiscoveryReport() []meta.ReportEntry {
	if err := r.Finish(); err != nil {
		return nil
	}
	return r.set.Report()
}

// IsRoot 判断 t 是否为根类型。
func (r *Registry) IsRoot(t reflect.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.roots[t]
	return ok
}
