package netser

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/lk2023060901/danmu-garden-netser/pkg/netser/wire"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// tables 是生成结束后安装的只读分发表。
type tables struct {
	entries map[reflect.Type]*entry
	types   *typeTable
}

type typeToken struct {
	module int32
	token  int32
}

// typeTable 把类型编码为（模块下标，模块内令牌）。
// 模块按包路径排序，模块内类型按类型字符串排序，两端独立构建也能得到相同编号。
type typeTable struct {
	modules  []string
	byModule [][]reflect.Type
	tokens   map[reflect.Type]typeToken
}

// moduleOf 返回类型所属的包路径，指针类型归属其元素类型，其余无名类型归入 ""。
func moduleOf(t reflect.Type) string {
	for t.Name() == "" && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath()
}

func newTypeTable(types []reflect.Type) (*typeTable, error) {
	grouped := lo.GroupBy(types, moduleOf)
	tt := &typeTable{
		modules: lo.Keys(grouped),
		tokens:  make(map[reflect.Type]typeToken, len(types)),
	}
	slices.Sort(tt.modules)
	tt.byModule = make([][]reflect.Type, len(tt.modules))
	for mi, module := range tt.modules {
		members := grouped[module]
		slices.SortFunc(members, func(a, b reflect.Type) int { return strings.Compare(a.String(), b.String()) })
		for ti, t := range members {
			if ti > 0 && members[ti-1].String() == t.String() {
				return nil, merr.WrapErrGenDuplicateRegister("type string", fmt.Sprintf("%s in module %q", t, module))
			}
			tt.tokens[t] = typeToken{module: int32(mi), token: int32(ti)}
		}
		tt.byModule[mi] = members
	}
	return tt, nil
}

// write 写入类型值，nil 写为模块 -1。
func (tt *typeTable) write(w *wire.Writer, t reflect.Type) error {
	if t == nil {
		w.WriteInt32(-1)
		w.WriteInt32(0)
		return nil
	}
	tok, ok := tt.tokens[t]
	if !ok {
		return merr.WrapErrUnregisteredType(t.String())
	}
	w.WriteInt32(tok.module)
	w.WriteInt32(tok.token)
	return nil
}

func (tt *typeTable) read(r *wire.Reader) (reflect.Type, error) {
	module, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	token, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if module == -1 {
		return nil, nil
	}
	if module < 0 || int(module) >= len(tt.byModule) {
		return nil, merr.WrapErrTypeTokenNotFound(module, token)
	}
	members := tt.byModule[module]
	if token < 0 || int(token) >= len(members) {
		return nil, merr.WrapErrTypeTokenNotFound(module, token)
	}
	return members[token], nil
}

func (tt *typeTable) all() []reflect.Type {
	return lo.Flatten(tt.byModule)
}

// Modules 返回参与序列化的模块（包路径）列表，下标即流中的模块编号。
func (r *Registry) Modules() []string {
	if err := r.Finish(); err != nil {
		return nil
	}
	return slices.Clone(r.tables.types.modules)
}

// TypeToken 返回 t 在流中的（模块下标，类型令牌）。
func (r *Registry) TypeToken(t reflect.Type) (module int32, token int32, ok bool) {
	if err := r.Finish(); err != nil {
		return 0, 0, false
	}
	tok, ok := r.tables.types.tokens[t]
	return tok.module, tok.token, ok
}

func sortedTypes[V any](m map[reflect.Type]V) []reflect.Type {
	out := lo.Keys(m)
	slices.SortFunc(out, func(a, b reflect.Type) int { return strings.Compare(a.String(), b.String()) })
	return out
}
