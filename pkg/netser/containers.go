package netser

import (
	"reflect"
	"unsafe"

	"golang.org/x/exp/slices"
)

// collection 由内置容器实现，容器编解码器通过它遍历与重建元素。
// each 按线格式顺序给出元素地址；refill 重置为 n 个零值元素并按同样顺序交给 fn 填充。
type collection interface {
	elemType() reflect.Type
	count() int
	each(fn func(p unsafe.Pointer) error) error
	refill(n int, fn func(p unsafe.Pointer) error) error
}

// List 是有序列表。
type List[T any] struct {
	items []T
}

func NewList[T any](items ...T) *List[T] {
	return &List[T]{items: slices.Clone(items)}
}

func (l *List[T]) Append(v ...T) {
	l.items = append(l.items, v...)
}

func (l *List[T]) Len() int {
	return len(l.items)
}

func (l *List[T]) At(i int) T {
	return l.items[i]
}

func (l *List[T]) Set(i int, v T) {
	l.items[i] = v
}

// RemoveAt 删除并返回下标 i 处的元素，保持其余元素顺序。
func (l *List[T]) RemoveAt(i int) T {
	v := l.items[i]
	l.items = slices.Delete(l.items, i, i+1)
	return v
}

// Items 返回元素副本。
func (l *List[T]) Items() []T {
	return slices.Clone(l.items)
}

func (l *List[T]) Clear() {
	clear(l.items)
	l.items = l.items[:0]
}

func (l *List[T]) elemType() reflect.Type { return reflect.TypeFor[T]() }
func (l *List[T]) count() int             { return len(l.items) }

func (l *List[T]) each(fn func(p unsafe.Pointer) error) error {
	for i := range l.items {
		if err := fn(unsafe.Pointer(&l.items[i])); err != nil {
			return err
		}
	}
	return nil
}

func (l *List[T]) refill(n int, fn func(p unsafe.Pointer) error) error {
	l.items = make([]T, n)
	return l.each(fn)
}

// Queue 是先进先出队列，遍历顺序为队首到队尾。
type Queue[T any] struct {
	items []T
	head  int
}

func NewQueue[T any](items ...T) *Queue[T] {
	return &Queue[T]{items: slices.Clone(items)}
}

func (q *Queue[T]) Enqueue(v T) {
	q.items = append(q.items, v)
}

func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if q.Len() == 0 {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head > len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return v, true
}

func (q *Queue[T]) Peek() (T, bool) {
	if q.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}

// Items 按出队顺序返回元素副本。
func (q *Queue[T]) Items() []T {
	return slices.Clone(q.items[q.head:])
}

func (q *Queue[T]) elemType() reflect.Type { return reflect.TypeFor[T]() }
func (q *Queue[T]) count() int             { return q.Len() }

func (q *Queue[T]) each(fn func(p unsafe.Pointer) error) error {
	for i := q.head; i < len(q.items); i++ {
		if err := fn(unsafe.Pointer(&q.items[i])); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue[T]) refill(n int, fn func(p unsafe.Pointer) error) error {
	q.items = make([]T, n)
	q.head = 0
	return q.each(fn)
}

// Stack 是后进先出栈，遍历顺序为栈顶到栈底。
type Stack[T any] struct {
	items []T
}

func NewStack[T any]() *Stack[T] {
	return &Stack[T]{}
}

func (s *Stack[T]) Push(v T) {
	s.items = append(s.items, v)
}

func (s *Stack[T]) Pop() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	v := s.items[len(s.items)-1]
	s.items[len(s.items)-1] = zero
	s.items = s.items[:len(s.items)-1]
	return v, true
}

func (s *Stack[T]) Peek() (T, bool) {
	if len(s.items) == 0 {
		var zero T
		return zero, false
	}
	return s.items[len(s.items)-1], true
}

func (s *Stack[T]) Len() int {
	return len(s.items)
}

// Items 按出栈顺序（栈顶在前）返回元素副本。
func (s *Stack[T]) Items() []T {
	out := slices.Clone(s.items)
	slices.Reverse(out)
	return out
}

func (s *Stack[T]) elemType() reflect.Type { return reflect.TypeFor[T]() }
func (s *Stack[T]) count() int             { return len(s.items) }

func (s *Stack[T]) each(fn func(p unsafe.Pointer) error) error {
	for i := len(s.items) - 1; i >= 0; i-- {
		if err := fn(unsafe.Pointer(&s.items[i])); err != nil {
			return err
		}
	}
	return nil
}

// refill 按栈顶到栈底的顺序填充，恢复出与编码前相同的栈。
func (s *Stack[T]) refill(n int, fn func(p unsafe.Pointer) error) error {
	s.items = make([]T, n)
	return s.each(fn)
}
