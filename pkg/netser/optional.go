package netser

import "reflect"

// Optional 是可空值包装：Has 为 false 时 Value 在解码后总是零值。
type Optional[T any] struct {
	Value T
	Has   bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Has: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Has
}

// OrElse 在无值时返回 fallback。
func (o Optional[T]) OrElse(fallback T) T {
	if o.Has {
		return o.Value
	}
	return fallback
}

func (Optional[T]) optionalElem() reflect.Type { return reflect.TypeFor[T]() }

type optionalValue interface {
	optionalElem() reflect.Type
}
