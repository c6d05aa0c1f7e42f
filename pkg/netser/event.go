package netser

import (
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/lk2023060901/danmu-garden-netser/pkg/util/merr"
)

// Handler 是事件回调。state 为订阅时捕获的状态对象，无状态目标收到 nil。
type Handler[A any] func(state any, arg A)

// Target 描述一个可被序列化的回调目标。
// Name 决定目标编号（按名字排序后的下标），两端必须注册相同的目标集合。
type Target[A any] struct {
	Name     string
	Fn       Handler[A]
	HasState bool
}

type subscription[A any] struct {
	fn    Handler[A]
	state any
}

// Event 是多播回调：按订阅顺序依次调用全部目标。
type Event[A any] struct {
	subs []subscription[A]
}

// Subscribe 追加一个订阅。fn 必须是通过 RegisterEvent 登记过的顶层函数才能被序列化。
func (e *Event[A]) Subscribe(fn Handler[A], state any) {
	e.subs = append(e.subs, subscription[A]{fn: fn, state: state})
}

// Unsubscribe 删除最后一个目标为 fn 的订阅。
func (e *Event[A]) Unsubscribe(fn Handler[A]) bool {
	ptr := funcPointer(fn)
	for i := len(e.subs) - 1; i >= 0; i-- {
		if funcPointer(e.subs[i].fn) == ptr {
			e.subs = slices.Delete(e.subs, i, i+1)
			return true
		}
	}
	return false
}

// Invoke 按订阅顺序调用全部目标。
func (e *Event[A]) Invoke(arg A) {
	if e == nil {
		return
	}
	for _, s := range e.subs {
		s.fn(s.state, arg)
	}
}

func (e *Event[A]) Len() int {
	if e == nil {
		return 0
	}
	return len(e.subs)
}

func (e *Event[A]) Clear() {
	clear(e.subs)
	e.subs = e.subs[:0]
}

type eventValue interface {
	eventArg() reflect.Type
	subscriptionCount() int
	subscriptionAt(i int) (fn uintptr, state any)
	appendSubscription(fn any, state any)
	resetSubscriptions(n int)
}

func (e *Event[A]) eventArg() reflect.Type { return reflect.TypeFor[A]() }
func (e *Event[A]) subscriptionCount() int { return len(e.subs) }

func (e *Event[A]) subscriptionAt(i int) (uintptr, any) {
	return funcPointer(e.subs[i].fn), e.subs[i].state
}

func (e *Event[A]) appendSubscription(fn any, state any) {
	e.subs = append(e.subs, subscription[A]{fn: fn.(Handler[A]), state: state})
}

func (e *Event[A]) resetSubscriptions(n int) {
	e.subs = make([]subscription[A], 0, n)
}

func funcPointer(fn any) uintptr {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.IsNil() {
		return 0
	}
	return v.Pointer()
}

type delegateTarget struct {
	name     string
	fn       any
	pointer  uintptr
	hasState bool
}

// delegateInfo 是一个事件类型的候选目标表，按名字排序，下标即流中的目标编号。
type delegateInfo struct {
	eventType reflect.Type
	argType   reflect.Type
	targets   []delegateTarget
	byPointer map[uintptr]int
}

func (d *delegateInfo) id(ptr uintptr) (int, bool) {
	i, ok := d.byPointer[ptr]
	return i, ok
}

// RegisterEvent 登记 Event[A] 可被序列化，并给出它的全部候选目标。
// 通常由 netsergen 扫描源码后生成的注册代码调用。
func RegisterEvent[A any](r *Registry, targets ...Target[A]) error {
	t := reflect.TypeFor[*Event[A]]()
	info := &delegateInfo{
		eventType: t,
		argType:   reflect.TypeFor[A](),
		targets:   make([]delegateTarget, 0, len(targets)),
		byPointer: make(map[uintptr]int, len(targets)),
	}
	names := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		if target.Name == "" {
			return merr.WrapErrGenBadTarget(t.String(), "empty target name")
		}
		if target.Fn == nil {
			return merr.WrapErrGenBadTarget(t.String(), fmt.Sprintf("nil function for target %s", target.Name))
		}
		if _, ok := names[target.Name]; ok {
			return merr.WrapErrGenDuplicateRegister("target", target.Name)
		}
		names[target.Name] = struct{}{}
		info.targets = append(info.targets, delegateTarget{
			name:     target.Name,
			fn:       target.Fn,
			pointer:  funcPointer(target.Fn),
			hasState: target.HasState,
		})
	}
	slices.SortFunc(info.targets, func(a, b delegateTarget) int { return strings.Compare(a.name, b.name) })
	for i, target := range info.targets {
		if prev, ok := info.byPointer[target.pointer]; ok {
			return merr.WrapErrGenBadTarget(t.String(),
				fmt.Sprintf("targets %s and %s share one function", info.targets[prev].name, target.name))
		}
		info.byPointer[target.pointer] = i
	}

	return r.mutate("RegisterEvent", func() error {
		if _, ok := r.events[t]; ok {
			return merr.WrapErrGenDuplicateRegister("event", t.String())
		}
		r.events[t] = info
		return nil
	})
}

// EventTargets 返回事件类型的目标名，下标即目标编号。
func (r *Registry) EventTargets(v any) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.events[typeOf(v)]
	if !ok {
		return nil
	}
	out := make([]string, len(info.targets))
	for i, target := range info.targets {
		out[i] = target.name
	}
	return out
}
