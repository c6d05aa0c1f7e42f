package meta

import (
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/lk2023060901/danmu-garden-netser/pkg/log"
	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// Node 记录一个被发现的类型以及发现它的路径。
type Node struct {
	Type   reflect.Type
	Parent reflect.Type
	// Via 为父类型中引用该类型的字段名或元素位置（elem、key、value）。
	Via   string
	Depth int
	// Leaf 表示该类型由外部编解码器处理，没有展开字段。
	Leaf bool
}

// Options 控制发现过程。
type Options struct {
	// Ignored 返回 true 的类型不会被发现，引用它的字段也会被跳过。
	Ignored func(reflect.Type) bool
	// Expand 允许调用方接管某个类型：返回 handled 为 true 时，
	// 该类型被视为叶子，只继续遍历 children。
	Expand func(t reflect.Type) (children []reflect.Type, handled bool)
	Logger *log.MLogger
}

// Option 修改 Options。
type Option func(*Options)

func WithIgnored(fn func(reflect.Type) bool) Option {
	return func(o *Options) { o.Ignored = fn }
}

func WithExpand(fn func(reflect.Type) ([]reflect.Type, bool)) Option {
	return func(o *Options) { o.Expand = fn }
}

func WithLogger(l *log.MLogger) Option {
	return func(o *Options) { o.Logger = l }
}

// Set 是一次发现得到的封闭类型集合。
type Set struct {
	order       []reflect.Type
	nodes       map[reflect.Type]*Node
	descriptors map[reflect.Type]*Descriptor
	interfaces  []reflect.Type
}

// Discover 从 roots 出发，沿实例字段、元素类型、map 键值类型遍历，
// 返回所有可达类型。接口类型会被记录但无法继续展开。
func Discover(roots []reflect.Type, opts ...Option) (*Set, error) {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = log.With(log.FieldComponent("discovery"))
	}

	s := &Set{
		nodes:       make(map[reflect.Type]*Node),
		descriptors: make(map[reflect.Type]*Descriptor),
	}
	d := &discoverer{set: s, opts: o}
	for _, root := range roots {
		if root == nil {
			return nil, merr.WrapErrInvalidArgument("nil root type")
		}
		if Skippable(root) {
			return nil, merr.WrapErrGenNoCodec(root.String(), "root")
		}
		d.visit(root, nil, "root", 0)
	}
	o.Logger.Info("type discovery finished",
		zap.Int("roots", len(roots)),
		zap.Int("types", len(s.order)),
		zap.Int("interfaces", len(s.interfaces)))
	return s, nil
}

type discoverer struct {
	set  *Set
	opts *Options
}

func (d *discoverer) visit(t, parent reflect.Type, via string, depth int) {
	if _, ok := d.set.nodes[t]; ok {
		return
	}
	if d.opts.Ignored != nil && d.opts.Ignored(t) {
		return
	}
	node := &Node{Type: t, Parent: parent, Via: via, Depth: depth}
	d.set.nodes[t] = node
	d.set.order = append(d.set.order, t)

	if parent != nil {
		d.opts.Logger.Debug("discovered type",
			log.FieldType(t),
			zap.Stringer("parent", parent),
			zap.String("via", via),
			zap.Int("depth", depth))
	} else {
		d.opts.Logger.Debug("discovered type", log.FieldType(t), zap.Int("depth", depth))
	}

	if d.opts.Expand != nil {
		if children, handled := d.opts.Expand(t); handled {
			node.Leaf = true
			for i, c := range children {
				if c != nil && !Skippable(c) {
					d.visit(c, t, fmt.Sprintf("arg%d", i), depth+1)
				}
			}
			return
		}
	}

	switch t.Kind() {
	case reflect.Struct:
		desc := Describe(t, d.opts.Ignored)
		d.set.descriptors[t] = desc
		for _, group := range [][]Field{desc.Base, desc.Bools, desc.Others} {
			for _, f := range group {
				d.visit(f.Type, t, f.Name, depth+1)
			}
		}
	case reflect.Pointer, reflect.Slice, reflect.Array:
		if !Skippable(t.Elem()) {
			d.visit(t.Elem(), t, "elem", depth+1)
		}
	case reflect.Map:
		d.visit(t.Key(), t, "key", depth+1)
		if !Skippable(t.Elem()) {
			d.visit(t.Elem(), t, "value", depth+1)
		}
	case reflect.Interface:
		node.Leaf = true
		d.set.interfaces = append(d.set.interfaces, t)
	default:
		node.Leaf = true
	}
}

// Types 返回按发现顺序排列的全部类型。
func (s *Set) Types() []reflect.Type {
	return slices.Clone(s.order)
}

// Sorted 返回按类型字符串排序的全部类型，不同进程间顺序一致。
func (s *Set) Sorted() []reflect.Type {
	out := slices.Clone(s.order)
	slices.SortFunc(out, func(a, b reflect.Type) int { return strings.Compare(a.String(), b.String()) })
	return out
}

// Interfaces 返回被字段引用的接口类型，这些字段需要按运行时类型分发。
func (s *Set) Interfaces() []reflect.Type {
	return slices.Clone(s.interfaces)
}

func (s *Set) Len() int {
	return len(s.order)
}

func (s *Set) Contains(t reflect.Type) bool {
	_, ok := s.nodes[t]
	return ok
}

func (s *Set) Node(t reflect.Type) (*Node, bool) {
	n, ok := s.nodes[t]
	return n, ok
}

// Descriptor 返回结构体类型的描述，非结构体或未发现的类型返回 nil。
func (s *Set) Descriptor(t reflect.Type) *Descriptor {
	return s.descriptors[t]
}

// Merge 将 other 中尚未出现的类型追加到 s。
func (s *Set) Merge(other *Set) {
	for _, t := range other.order {
		if _, ok := s.nodes[t]; ok {
			continue
		}
		s.nodes[t] = other.nodes[t]
		s.order = append(s.order, t)
		if desc, ok := other.descriptors[t]; ok {
			s.descriptors[t] = desc
		}
		if t.Kind() == reflect.Interface {
			s.interfaces = append(s.interfaces, t)
		}
	}
}

// ReportEntry 是发现报告中的一行。
type ReportEntry struct {
	Type   string `json:"type"`
	Kind   string `json:"kind"`
	Parent string `json:"parent,omitempty"`
	Via    string `json:"via"`
	Depth  int    `json:"depth"`
	Fields int    `json:"fields"`
	Bools  int    `json:"bools"`
	Leaf   bool   `json:"leaf"`
}

// Report 返回按类型字符串排序的发现报告。
func (s *Set) Report() []ReportEntry {
	out := make([]ReportEntry, 0, len(s.order))
	for _, t := range s.Sorted() {
		n := s.nodes[t]
		e := ReportEntry{
			Type:  t.String(),
			Kind:  t.Kind().String(),
			Via:   n.Via,
			Depth: n.Depth,
			Leaf:  n.Leaf,
		}
		if n.Parent != nil {
			e.Parent = n.Parent.String()
		}
		if desc := s.descriptors[t]; desc != nil {
			e.Fields = desc.FieldCount()
			e.Bools = len(desc.Bools)
		}
		out = append(out, e)
	}
	return out
}
